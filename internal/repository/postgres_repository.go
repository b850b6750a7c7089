package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradeguard/internal/domain"
)

// PostgresRepository implements domain.GuardRepository on a pgx pool
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureUser upserts the user and creates settings/state rows if absent
func (r *PostgresRepository) EnsureUser(ctx context.Context, userID string, now int64) error {
	d := domain.DefaultSettings(userID)

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (tg_user_id, created_at, updated_at)
			VALUES ($1, $2, $2)
			ON CONFLICT (tg_user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		`, userID, now); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO settings (tg_user_id, max_trades_per_day, max_losses_per_day, max_loss_streak, timezone_offset_min, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tg_user_id) DO NOTHING
		`, userID, d.MaxTradesPerDay, d.MaxLossesPerDay, d.MaxLossStreak, d.TimezoneOffsetMinutes, now); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO state (tg_user_id, day_key, trades_today, losses_today, loss_streak, trading_off_until_ts, off_reason, updated_at)
			VALUES ($1, '', 0, 0, 0, 0, '', $2)
			ON CONFLICT (tg_user_id) DO NOTHING
		`, userID, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// GetSettings retrieves a user's settings
func (r *PostgresRepository) GetSettings(ctx context.Context, userID string) (domain.UserSettings, error) {
	s := domain.UserSettings{UserID: userID}
	err := r.db.QueryRow(ctx, `
		SELECT max_trades_per_day, max_losses_per_day, max_loss_streak, timezone_offset_min, updated_at
		FROM settings
		WHERE tg_user_id = $1
	`, userID).Scan(
		&s.MaxTradesPerDay,
		&s.MaxLossesPerDay,
		&s.MaxLossStreak,
		&s.TimezoneOffsetMinutes,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserSettings{}, fmt.Errorf("failed to get settings for %s: %w", userID, domain.ErrUserNotFound)
	}
	if err != nil {
		return domain.UserSettings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	return s, nil
}

// GetState retrieves a user's state
func (r *PostgresRepository) GetState(ctx context.Context, userID string) (domain.UserState, error) {
	s := domain.UserState{UserID: userID}
	err := r.db.QueryRow(ctx, `
		SELECT day_key, trades_today, losses_today, loss_streak, trading_off_until_ts, off_reason, updated_at
		FROM state
		WHERE tg_user_id = $1
	`, userID).Scan(
		&s.DayKey,
		&s.TradesToday,
		&s.LossesToday,
		&s.LossStreak,
		&s.TradingOffUntil,
		&s.OffReason,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserState{}, fmt.Errorf("failed to get state for %s: %w", userID, domain.ErrUserNotFound)
	}
	if err != nil {
		return domain.UserState{}, fmt.Errorf("failed to get state: %w", err)
	}
	return s, nil
}

// SaveSettings overwrites the settings and state rows and appends events in one transaction
func (r *PostgresRepository) SaveSettings(ctx context.Context, s domain.UserSettings, st domain.UserState, events []domain.Event) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE settings
			SET max_trades_per_day = $1, max_losses_per_day = $2, max_loss_streak = $3,
			    timezone_offset_min = $4, updated_at = $5
			WHERE tg_user_id = $6
		`, s.MaxTradesPerDay, s.MaxLossesPerDay, s.MaxLossStreak, s.TimezoneOffsetMinutes, s.UpdatedAt, s.UserID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrUserNotFound
		}
		if err := updateStateTx(ctx, tx, st); err != nil {
			return err
		}
		for _, ev := range events {
			if err := insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save settings for %s: %w", s.UserID, err)
	}
	return nil
}

// SaveState overwrites the state row and appends ev in one transaction
func (r *PostgresRepository) SaveState(ctx context.Context, s domain.UserState, ev domain.Event) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := updateStateTx(ctx, tx, s); err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
	if err != nil {
		return fmt.Errorf("failed to save state for %s: %w", s.UserID, err)
	}
	return nil
}

func updateStateTx(ctx context.Context, tx pgx.Tx, s domain.UserState) error {
	tag, err := tx.Exec(ctx, `
		UPDATE state
		SET day_key = $1, trades_today = $2, losses_today = $3, loss_streak = $4,
		    trading_off_until_ts = $5, off_reason = $6, updated_at = $7
		WHERE tg_user_id = $8
	`, s.DayKey, s.TradesToday, s.LossesToday, s.LossStreak, s.TradingOffUntil, s.OffReason, s.UpdatedAt, s.UserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev domain.Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO events (tg_user_id, ts, type, detail)
		VALUES ($1, $2, $3, $4)
	`, ev.UserID, ev.Timestamp, ev.Type, ev.Detail)
	return err
}

// ListEvents returns up to limit events, newest first
func (r *PostgresRepository) ListEvents(ctx context.Context, userID string, limit int) ([]domain.Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tg_user_id, ts, type, detail
		FROM events
		WHERE tg_user_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Timestamp, &ev.Type, &ev.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// CountTradingOff counts users whose stop is in force at now
func (r *PostgresRepository) CountTradingOff(ctx context.Context, now int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM state WHERE trading_off_until_ts > $1`, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count stopped users: %w", err)
	}
	return n, nil
}

// Ping checks the pool
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
