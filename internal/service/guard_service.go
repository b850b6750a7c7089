package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradeguard/internal/domain"
	"tradeguard/internal/metrics"
	"tradeguard/internal/utils"
)

// Stop reasons, in priority order
const (
	ReasonMaxTrades = "Max trades per day reached"
	ReasonMaxLosses = "Max losses per day reached"
	ReasonMaxStreak = "Max loss streak reached"
)

// GuardEngine owns the day-rollover and limit-enforcement state machine.
// All time-dependent transitions are evaluated lazily at the start of each call.
type GuardEngine struct {
	repo   domain.GuardRepository
	locker domain.UserLocker
	now    func() time.Time
	log    *zap.Logger
}

// Option configures a GuardEngine
type Option func(*GuardEngine)

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(e *GuardEngine) { e.now = now }
}

// WithLogger sets the engine logger
func WithLogger(log *zap.Logger) Option {
	return func(e *GuardEngine) { e.log = log }
}

// NewGuardEngine creates a new GuardEngine
func NewGuardEngine(repo domain.GuardRepository, locker domain.UserLocker, opts ...Option) *GuardEngine {
	e := &GuardEngine{
		repo:   repo,
		locker: locker,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *GuardEngine) nowTs() int64 {
	return e.now().Unix()
}

// persistErr tags storage failures so callers can tell them apart from rejections
func persistErr(err error) error {
	metrics.PersistenceErrors.Inc()
	return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}

func (e *GuardEngine) withUser(ctx context.Context, userID string, fn func() error) error {
	unlock, err := e.locker.Lock(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to lock user %s: %w", userID, err)
	}
	defer unlock()
	return fn()
}

// EnsureUser creates the user with defaults if absent, otherwise refreshes last-seen
func (e *GuardEngine) EnsureUser(ctx context.Context, userID string) error {
	return e.withUser(ctx, userID, func() error {
		if err := e.repo.EnsureUser(ctx, userID, e.nowTs()); err != nil {
			return persistErr(err)
		}
		return nil
	})
}

// GetSettings reads the user's settings
func (e *GuardEngine) GetSettings(ctx context.Context, userID string) (domain.UserSettings, error) {
	s, err := e.repo.GetSettings(ctx, userID)
	if err != nil {
		return domain.UserSettings{}, persistErr(err)
	}
	return s, nil
}

// GetState reads the user's state
func (e *GuardEngine) GetState(ctx context.Context, userID string) (domain.UserState, error) {
	st, err := e.repo.GetState(ctx, userID)
	if err != nil {
		return domain.UserState{}, persistErr(err)
	}
	return st, nil
}

// Reconcile brings the stored state up to date with the current instant
func (e *GuardEngine) Reconcile(ctx context.Context, userID string) (domain.UserState, error) {
	var st domain.UserState
	err := e.withUser(ctx, userID, func() error {
		var err error
		st, err = e.reconcile(ctx, userID, e.nowTs())
		return err
	})
	return st, err
}

func (e *GuardEngine) reconcile(ctx context.Context, userID string, now int64) (domain.UserState, error) {
	settings, err := e.repo.GetSettings(ctx, userID)
	if err != nil {
		return domain.UserState{}, persistErr(err)
	}
	st, err := e.repo.GetState(ctx, userID)
	if err != nil {
		return domain.UserState{}, persistErr(err)
	}

	next, ev, changed := rollover(settings, st, now)
	if !changed {
		return st, nil
	}
	if next, err = e.saveState(ctx, next, ev, now); err != nil {
		return domain.UserState{}, err
	}
	e.observeRollover(userID, ev, next.DayKey)
	return next, nil
}

// rollover resets an outdated day or clears an expired stop, at most one of the two
func rollover(settings domain.UserSettings, st domain.UserState, now int64) (domain.UserState, domain.Event, bool) {
	todayKey := utils.DayKey(now, settings.TimezoneOffsetMinutes)
	switch {
	case st.DayKey != todayKey:
		return st.ResetDay(todayKey, now), domain.Event{Type: domain.EventDayReset, Detail: "Reset to " + todayKey}, true
	case st.StopExpired(now):
		return st.ClearStop(), domain.Event{Type: domain.EventStopExpired, Detail: "Stop expired, trading enabled"}, true
	}
	return st, domain.Event{}, false
}

func (e *GuardEngine) observeRollover(userID string, ev domain.Event, dayKey string) {
	if ev.Type == domain.EventDayReset {
		metrics.DayResets.Inc()
		e.log.Debug("day reset", zap.String("user_id", userID), zap.String("day_key", dayKey))
		return
	}
	metrics.StopsExpired.Inc()
	e.log.Info("stop expired", zap.String("user_id", userID))
}

// saveState stamps and stores st together with ev
func (e *GuardEngine) saveState(ctx context.Context, st domain.UserState, ev domain.Event, now int64) (domain.UserState, error) {
	st.UpdatedAt = now
	ev.UserID = st.UserID
	ev.Timestamp = now
	if err := e.repo.SaveState(ctx, st, ev); err != nil {
		return domain.UserState{}, persistErr(err)
	}
	return st, nil
}

// EnforceLimits turns trading off for the rest of the local day once a threshold is hit.
// An existing stop is never extended.
func (e *GuardEngine) EnforceLimits(ctx context.Context, userID string) (domain.UserState, error) {
	var st domain.UserState
	err := e.withUser(ctx, userID, func() error {
		var err error
		st, err = e.enforceLimits(ctx, userID, e.nowTs())
		return err
	})
	return st, err
}

func (e *GuardEngine) enforceLimits(ctx context.Context, userID string, now int64) (domain.UserState, error) {
	settings, err := e.repo.GetSettings(ctx, userID)
	if err != nil {
		return domain.UserState{}, persistErr(err)
	}
	st, err := e.repo.GetState(ctx, userID)
	if err != nil {
		return domain.UserState{}, persistErr(err)
	}

	next, ev, stopped := limitStop(settings, st, now)
	if !stopped {
		return st, nil
	}
	if next, err = e.saveState(ctx, next, ev, now); err != nil {
		return domain.UserState{}, err
	}
	e.observeStop(userID, next)
	return next, nil
}

// limitStop stops trading until the next local midnight when a limit is breached
// and no stop is already in force
func limitStop(settings domain.UserSettings, st domain.UserState, now int64) (domain.UserState, domain.Event, bool) {
	if st.IsTradingOff(now) {
		return st, domain.Event{}, false
	}
	reason := breachedLimit(settings, st)
	if reason == "" {
		return st, domain.Event{}, false
	}
	until := utils.StartOfNextLocalDay(now, settings.TimezoneOffsetMinutes)
	ev := domain.Event{Type: domain.EventStopDay, Detail: fmt.Sprintf("%s; off until %d", reason, until)}
	return st.Stop(until, reason), ev, true
}

func (e *GuardEngine) observeStop(userID string, st domain.UserState) {
	metrics.StopsTriggered.WithLabelValues(st.OffReason).Inc()
	e.log.Info("trading stopped",
		zap.String("user_id", userID),
		zap.String("reason", st.OffReason),
		zap.Int64("off_until", st.TradingOffUntil),
	)
}

// breachedLimit returns the first breached limit's reason, or ""
func breachedLimit(s domain.UserSettings, st domain.UserState) string {
	switch {
	case st.TradesToday >= s.MaxTradesPerDay:
		return ReasonMaxTrades
	case st.LossesToday >= s.MaxLossesPerDay:
		return ReasonMaxLosses
	case st.LossStreak >= s.MaxLossStreak:
		return ReasonMaxStreak
	}
	return ""
}

// RecordOutcome counts one trade. While a stop is in force it returns the current
// state together with a *domain.TradingOffError and changes nothing.
func (e *GuardEngine) RecordOutcome(ctx context.Context, userID string, outcome domain.Outcome) (domain.UserState, error) {
	var st domain.UserState
	err := e.withUser(ctx, userID, func() error {
		now := e.nowTs()

		var err error
		st, err = e.reconcile(ctx, userID, now)
		if err != nil {
			return err
		}

		if st.IsTradingOff(now) {
			metrics.RecordsRejected.Inc()
			e.log.Debug("record rejected: trading off",
				zap.String("user_id", userID),
				zap.String("reason", st.OffReason),
			)
			return &domain.TradingOffError{State: st}
		}

		ev := domain.Event{Type: domain.EventRecord, Detail: string(outcome)}
		if _, err := e.saveState(ctx, st.ApplyOutcome(outcome), ev, now); err != nil {
			return err
		}
		metrics.OutcomesRecorded.WithLabelValues(string(outcome)).Inc()

		st, err = e.enforceLimits(ctx, userID, now)
		return err
	})

	var offErr *domain.TradingOffError
	if errors.As(err, &offErr) {
		return offErr.State, err
	}
	return st, err
}

// UpdateSettings clamps the candidate, then reconciles and re-enforces limits under it.
// The settings, the resulting state and every event are stored in one repository call.
func (e *GuardEngine) UpdateSettings(ctx context.Context, userID string, patch domain.SettingsPatch) (domain.UserSettings, error) {
	var settings domain.UserSettings
	err := e.withUser(ctx, userID, func() error {
		now := e.nowTs()

		settings = patch.Resolve(userID)
		settings.UpdatedAt = now
		st, err := e.repo.GetState(ctx, userID)
		if err != nil {
			return persistErr(err)
		}

		events := []domain.Event{{
			Type: domain.EventSettingsUpdate,
			Detail: fmt.Sprintf("mtd=%d, mld=%d, mls=%d, tz=%d",
				settings.MaxTradesPerDay, settings.MaxLossesPerDay, settings.MaxLossStreak, settings.TimezoneOffsetMinutes),
		}}
		st, rollEv, rolled := rollover(settings, st, now)
		if rolled {
			events = append(events, rollEv)
		}
		st, stopEv, stopped := limitStop(settings, st, now)
		if stopped {
			events = append(events, stopEv)
		}
		if rolled || stopped {
			st.UpdatedAt = now
		}
		for i := range events {
			events[i].UserID = userID
			events[i].Timestamp = now
		}

		if err := e.repo.SaveSettings(ctx, settings, st, events); err != nil {
			return persistErr(err)
		}

		metrics.SettingsUpdates.Inc()
		e.log.Info("settings updated", zap.String("user_id", userID), zap.String("detail", events[0].Detail))
		if rolled {
			e.observeRollover(userID, rollEv, st.DayKey)
		}
		if stopped {
			e.observeStop(userID, st)
		}
		return nil
	})
	return settings, err
}

// ListEvents returns up to limit events, newest first. limit outside [1, 50] means 50.
func (e *GuardEngine) ListEvents(ctx context.Context, userID string, limit int) ([]domain.Event, error) {
	if limit <= 0 || limit > domain.MaxListedEvents {
		limit = domain.MaxListedEvents
	}
	events, err := e.repo.ListEvents(ctx, userID, limit)
	if err != nil {
		return nil, persistErr(err)
	}
	return events, nil
}

// CountTradingOff reports how many users are currently stopped
func (e *GuardEngine) CountTradingOff(ctx context.Context) (int, error) {
	n, err := e.repo.CountTradingOff(ctx, e.nowTs())
	if err != nil {
		return 0, persistErr(err)
	}
	return n, nil
}
