package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tradeguard/internal/domain"
)

// GuardEngine is the slice of the engine the user-facing flows drive
type GuardEngine interface {
	EnsureUser(ctx context.Context, userID string) error
	GetSettings(ctx context.Context, userID string) (domain.UserSettings, error)
	GetState(ctx context.Context, userID string) (domain.UserState, error)
	Reconcile(ctx context.Context, userID string) (domain.UserState, error)
	EnforceLimits(ctx context.Context, userID string) (domain.UserState, error)
	RecordOutcome(ctx context.Context, userID string, outcome domain.Outcome) (domain.UserState, error)
	UpdateSettings(ctx context.Context, userID string, patch domain.SettingsPatch) (domain.UserSettings, error)
	ListEvents(ctx context.Context, userID string, limit int) ([]domain.Event, error)
}

// GuardUsecase implements domain.GuardService on top of the engine.
// Every flow ensures the user, reconciles, then acts. Settings updates
// reconcile only after the new settings are stored.
type GuardUsecase struct {
	engine GuardEngine
	log    *zap.Logger
}

var _ domain.GuardService = (*GuardUsecase)(nil)

// NewGuardUsecase creates a new GuardUsecase
func NewGuardUsecase(engine GuardEngine, log *zap.Logger) *GuardUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &GuardUsecase{engine: engine, log: log}
}

func (u *GuardUsecase) ensure(ctx context.Context, rawID string) (string, error) {
	userID, err := domain.NormalizeUserID(rawID)
	if err != nil {
		return "", err
	}
	if err := u.engine.EnsureUser(ctx, userID); err != nil {
		return "", err
	}
	return userID, nil
}

func (u *GuardUsecase) prepare(ctx context.Context, rawID string) (string, error) {
	userID, err := u.ensure(ctx, rawID)
	if err != nil {
		return "", err
	}
	if _, err := u.engine.Reconcile(ctx, userID); err != nil {
		return "", err
	}
	return userID, nil
}

func (u *GuardUsecase) snapshot(ctx context.Context, userID string) (domain.Snapshot, error) {
	settings, err := u.engine.GetSettings(ctx, userID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	state, err := u.engine.GetState(ctx, userID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return domain.Snapshot{Settings: settings, State: state}, nil
}

// Bootstrap is the open/first-contact flow
func (u *GuardUsecase) Bootstrap(ctx context.Context, rawID string) (domain.Snapshot, error) {
	userID, err := u.prepare(ctx, rawID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if _, err := u.engine.EnforceLimits(ctx, userID); err != nil {
		return domain.Snapshot{}, err
	}
	return u.snapshot(ctx, userID)
}

// UpdateSettings stores clamped settings and returns the resulting snapshot.
// The day is reconciled under the new timezone only.
func (u *GuardUsecase) UpdateSettings(ctx context.Context, rawID string, patch domain.SettingsPatch) (domain.Snapshot, error) {
	userID, err := u.ensure(ctx, rawID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if _, err := u.engine.UpdateSettings(ctx, userID, patch); err != nil {
		return domain.Snapshot{}, err
	}
	return u.snapshot(ctx, userID)
}

// Record counts one outcome. On rejection the snapshot still carries the current
// settings and state alongside the *domain.TradingOffError.
func (u *GuardUsecase) Record(ctx context.Context, rawID string, outcome domain.Outcome) (domain.Snapshot, error) {
	if _, err := domain.NormalizeUserID(rawID); err != nil {
		return domain.Snapshot{}, err
	}
	if _, err := domain.ParseOutcome(string(outcome)); err != nil {
		return domain.Snapshot{}, err
	}
	userID, err := u.prepare(ctx, rawID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	state, recErr := u.engine.RecordOutcome(ctx, userID, outcome)
	switch {
	case recErr == nil:
	case errors.Is(recErr, domain.ErrTradingOff):
		u.log.Debug("outcome rejected", zap.String("user_id", userID), zap.String("outcome", string(outcome)))
	default:
		return domain.Snapshot{}, fmt.Errorf("failed to record outcome: %w", recErr)
	}

	settings, err := u.engine.GetSettings(ctx, userID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return domain.Snapshot{Settings: settings, State: state}, recErr
}

// Events lists up to limit recent events, newest first
func (u *GuardUsecase) Events(ctx context.Context, rawID string, limit int) ([]domain.Event, error) {
	userID, err := u.prepare(ctx, rawID)
	if err != nil {
		return nil, err
	}
	return u.engine.ListEvents(ctx, userID, limit)
}
