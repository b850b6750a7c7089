package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tradeguard/internal/domain"
)

// Row models mirror the persisted layout. Timestamps are set by the engine, not by gorm.

type userRow struct {
	TgUserID  string `gorm:"column:tg_user_id;primaryKey"`
	CreatedAt int64  `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (userRow) TableName() string { return "users" }

type settingsRow struct {
	TgUserID          string `gorm:"column:tg_user_id;primaryKey"`
	MaxTradesPerDay   int    `gorm:"column:max_trades_per_day;not null;default:6"`
	MaxLossesPerDay   int    `gorm:"column:max_losses_per_day;not null;default:3"`
	MaxLossStreak     int    `gorm:"column:max_loss_streak;not null;default:2"`
	TimezoneOffsetMin int    `gorm:"column:timezone_offset_min;not null;default:60"`
	UpdatedAt         int64  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (settingsRow) TableName() string { return "settings" }

type stateRow struct {
	TgUserID          string `gorm:"column:tg_user_id;primaryKey"`
	DayKey            string `gorm:"column:day_key;not null"`
	TradesToday       int    `gorm:"column:trades_today;not null;default:0"`
	LossesToday       int    `gorm:"column:losses_today;not null;default:0"`
	LossStreak        int    `gorm:"column:loss_streak;not null;default:0"`
	TradingOffUntilTs int64  `gorm:"column:trading_off_until_ts;not null;default:0"`
	OffReason         string `gorm:"column:off_reason;not null"`
	UpdatedAt         int64  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (stateRow) TableName() string { return "state" }

type eventRow struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	TgUserID string `gorm:"column:tg_user_id;not null;index:idx_events_user_ts,priority:1"`
	Ts       int64  `gorm:"column:ts;not null;index:idx_events_user_ts,priority:2"`
	Type     string `gorm:"column:type;not null"`
	Detail   string `gorm:"column:detail;not null"`
}

func (eventRow) TableName() string { return "events" }

// SQLiteRepository stores everything in a single SQLite file through gorm
type SQLiteRepository struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database file, enables WAL and migrates the schema
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	// one writer at a time
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA journal_mode = WAL").Error; err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := db.AutoMigrate(&userRow{}, &settingsRow{}, &stateRow{}, &eventRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return db, nil
}

// NewSQLiteRepository creates a new SQLiteRepository
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// EnsureUser upserts the user row and creates settings/state rows if absent
func (r *SQLiteRepository) EnsureUser(ctx context.Context, userID string, now int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := userRow{TgUserID: userID, CreatedAt: now, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tg_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
		}).Create(&user).Error; err != nil {
			return err
		}

		d := domain.DefaultSettings(userID)
		settings := settingsRow{
			TgUserID:          userID,
			MaxTradesPerDay:   d.MaxTradesPerDay,
			MaxLossesPerDay:   d.MaxLossesPerDay,
			MaxLossStreak:     d.MaxLossStreak,
			TimezoneOffsetMin: d.TimezoneOffsetMinutes,
			UpdatedAt:         now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&settings).Error; err != nil {
			return err
		}

		state := stateRow{TgUserID: userID, UpdatedAt: now}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&state).Error
	})
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// GetSettings retrieves a user's settings
func (r *SQLiteRepository) GetSettings(ctx context.Context, userID string) (domain.UserSettings, error) {
	var row settingsRow
	err := r.db.WithContext(ctx).Where("tg_user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.UserSettings{}, fmt.Errorf("failed to get settings for %s: %w", userID, domain.ErrUserNotFound)
	}
	if err != nil {
		return domain.UserSettings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	return domain.UserSettings{
		UserID:                row.TgUserID,
		MaxTradesPerDay:       row.MaxTradesPerDay,
		MaxLossesPerDay:       row.MaxLossesPerDay,
		MaxLossStreak:         row.MaxLossStreak,
		TimezoneOffsetMinutes: row.TimezoneOffsetMin,
		UpdatedAt:             row.UpdatedAt,
	}, nil
}

// GetState retrieves a user's state
func (r *SQLiteRepository) GetState(ctx context.Context, userID string) (domain.UserState, error) {
	var row stateRow
	err := r.db.WithContext(ctx).Where("tg_user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.UserState{}, fmt.Errorf("failed to get state for %s: %w", userID, domain.ErrUserNotFound)
	}
	if err != nil {
		return domain.UserState{}, fmt.Errorf("failed to get state: %w", err)
	}
	return domain.UserState{
		UserID:          row.TgUserID,
		DayKey:          row.DayKey,
		TradesToday:     row.TradesToday,
		LossesToday:     row.LossesToday,
		LossStreak:      row.LossStreak,
		TradingOffUntil: row.TradingOffUntilTs,
		OffReason:       row.OffReason,
		UpdatedAt:       row.UpdatedAt,
	}, nil
}

// SaveSettings overwrites the settings and state rows and appends events in one transaction
func (r *SQLiteRepository) SaveSettings(ctx context.Context, s domain.UserSettings, st domain.UserState, events []domain.Event) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&settingsRow{}).Where("tg_user_id = ?", s.UserID).Updates(map[string]interface{}{
			"max_trades_per_day":  s.MaxTradesPerDay,
			"max_losses_per_day":  s.MaxLossesPerDay,
			"max_loss_streak":     s.MaxLossStreak,
			"timezone_offset_min": s.TimezoneOffsetMinutes,
			"updated_at":          s.UpdatedAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrUserNotFound
		}
		if err := updateStateRow(tx, st); err != nil {
			return err
		}
		for _, ev := range events {
			if err := tx.Create(toEventRow(ev)).Error; err != nil {
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
func (r *SQLiteRepository) SaveState(ctx context.Context, s domain.UserState, ev domain.Event) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateStateRow(tx, s); err != nil {
			return err
		}
		return tx.Create(toEventRow(ev)).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save state for %s: %w", s.UserID, err)
	}
	return nil
}

func updateStateRow(tx *gorm.DB, s domain.UserState) error {
	res := tx.Model(&stateRow{}).Where("tg_user_id = ?", s.UserID).Updates(map[string]interface{}{
		"day_key":              s.DayKey,
		"trades_today":         s.TradesToday,
		"losses_today":         s.LossesToday,
		"loss_streak":          s.LossStreak,
		"trading_off_until_ts": s.TradingOffUntil,
		"off_reason":           s.OffReason,
		"updated_at":           s.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func toEventRow(ev domain.Event) *eventRow {
	return &eventRow{TgUserID: ev.UserID, Ts: ev.Timestamp, Type: ev.Type, Detail: ev.Detail}
}

// ListEvents returns up to limit events, newest first
func (r *SQLiteRepository) ListEvents(ctx context.Context, userID string, limit int) ([]domain.Event, error) {
	var rows []eventRow
	err := r.db.WithContext(ctx).
		Where("tg_user_id = ?", userID).
		Order("ts DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, domain.Event{
			ID:        row.ID,
			UserID:    row.TgUserID,
			Timestamp: row.Ts,
			Type:      row.Type,
			Detail:    row.Detail,
		})
	}
	return events, nil
}

// CountTradingOff counts users whose stop is in force at now
func (r *SQLiteRepository) CountTradingOff(ctx context.Context, now int64) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&stateRow{}).Where("trading_off_until_ts > ?", now).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count stopped users: %w", err)
	}
	return int(n), nil
}

// Ping checks the database handle
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database
func (r *SQLiteRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
