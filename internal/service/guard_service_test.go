package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeguard/internal/domain"
	"tradeguard/internal/lock"
	"tradeguard/internal/metrics"
	"tradeguard/internal/repository"
)

// 2024-05-01T00:00:00Z
const may1 int64 = 1714521600

// 11:00 local at the default UTC+1
const t0 = may1 + 10*3600

type fakeClock struct {
	mu sync.Mutex
	ts int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.ts, 0)
}

func (c *fakeClock) Set(ts int64) {
	c.mu.Lock()
	c.ts = ts
	c.mu.Unlock()
}

func newEngine(t *testing.T) (*GuardEngine, *repository.MemoryRepository, *fakeClock) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	clk := &fakeClock{ts: t0}
	return NewGuardEngine(repo, lock.NewMutexLocker(), WithClock(clk.Now)), repo, clk
}

func bootstrap(t *testing.T, e *GuardEngine, userID string) domain.UserState {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.EnsureUser(ctx, userID))
	_, err := e.Reconcile(ctx, userID)
	require.NoError(t, err)
	st, err := e.EnforceLimits(ctx, userID)
	require.NoError(t, err)
	return st
}

func ptr(v int) *int { return &v }

func eventTypes(events []domain.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestBootstrap_FirstContact(t *testing.T) {
	e, _, _ := newEngine(t)
	st := bootstrap(t, e, "42")

	assert.Equal(t, "2024-05-01", st.DayKey)
	assert.Zero(t, st.TradesToday)
	assert.False(t, st.IsTradingOff(t0))

	events, err := e.ListEvents(context.Background(), "42", 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventDayReset, events[0].Type)
	assert.Equal(t, "Reset to 2024-05-01", events[0].Detail)
	assert.Equal(t, t0, events[0].Timestamp)
}

func TestReconcile_IsIdempotentWithinADay(t *testing.T) {
	e, _, clk := newEngine(t)
	bootstrap(t, e, "42")

	clk.Set(t0 + 3600)
	_, err := e.Reconcile(context.Background(), "42")
	require.NoError(t, err)

	events, err := e.ListEvents(context.Background(), "42", 50)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecordOutcome_LossStreakStopsTrading(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")

	st, err := e.RecordOutcome(ctx, "42", domain.OutcomeLoss)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TradesToday)
	assert.Equal(t, 1, st.LossStreak)
	assert.False(t, st.IsTradingOff(t0))

	st, err = e.RecordOutcome(ctx, "42", domain.OutcomeLoss)
	require.NoError(t, err)
	until := may1 + 23*3600
	assert.Equal(t, until, st.TradingOffUntil)
	assert.Equal(t, ReasonMaxStreak, st.OffReason)

	rejected := testutil.ToFloat64(metrics.RecordsRejected)
	blocked, err := e.RecordOutcome(ctx, "42", domain.OutcomeWin)
	assert.ErrorIs(t, err, domain.ErrTradingOff)
	var offErr *domain.TradingOffError
	require.ErrorAs(t, err, &offErr)
	assert.Equal(t, st, offErr.State)
	assert.Equal(t, st, blocked, "rejected record must not change state")
	assert.Equal(t, rejected+1, testutil.ToFloat64(metrics.RecordsRejected))

	events, err := e.ListEvents(ctx, "42", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.EventStopDay, domain.EventRecord, domain.EventRecord, domain.EventDayReset}, eventTypes(events))
	assert.Equal(t, fmt.Sprintf("Max loss streak reached; off until %d", until), events[0].Detail)
	assert.Equal(t, "LOSS", events[1].Detail)
}

func TestRecordOutcome_WinResetsStreak(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")

	_, err := e.RecordOutcome(ctx, "42", domain.OutcomeLoss)
	require.NoError(t, err)
	st, err := e.RecordOutcome(ctx, "42", domain.OutcomeWin)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TradesToday)
	assert.Equal(t, 1, st.LossesToday)
	assert.Zero(t, st.LossStreak)

	st, err = e.RecordOutcome(ctx, "42", domain.OutcomeLoss)
	require.NoError(t, err)
	assert.False(t, st.IsTradingOff(t0), "streak restarted after the win")
}

func TestRecordOutcome_MaxTradesStopsTrading(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")

	var st domain.UserState
	var err error
	for i := 0; i < domain.DefaultMaxTradesPerDay; i++ {
		st, err = e.RecordOutcome(ctx, "42", domain.OutcomeWin)
		require.NoError(t, err)
	}
	assert.Equal(t, ReasonMaxTrades, st.OffReason)

	_, err = e.RecordOutcome(ctx, "42", domain.OutcomeWin)
	assert.ErrorIs(t, err, domain.ErrTradingOff)
}

func TestBreachedLimit_Priority(t *testing.T) {
	tests := []struct {
		name     string
		settings domain.UserSettings
		state    domain.UserState
		want     string
	}{
		{"none", domain.UserSettings{MaxTradesPerDay: 6, MaxLossesPerDay: 3, MaxLossStreak: 2}, domain.UserState{TradesToday: 5, LossesToday: 2, LossStreak: 1}, ""},
		{"all breached", domain.UserSettings{MaxTradesPerDay: 1, MaxLossesPerDay: 1, MaxLossStreak: 1}, domain.UserState{TradesToday: 1, LossesToday: 1, LossStreak: 1}, ReasonMaxTrades},
		{"losses over streak", domain.UserSettings{MaxTradesPerDay: 50, MaxLossesPerDay: 2, MaxLossStreak: 2}, domain.UserState{TradesToday: 3, LossesToday: 2, LossStreak: 2}, ReasonMaxLosses},
		{"streak only", domain.UserSettings{MaxTradesPerDay: 50, MaxLossesPerDay: 50, MaxLossStreak: 3}, domain.UserState{TradesToday: 4, LossesToday: 3, LossStreak: 3}, ReasonMaxStreak},
		{"zero losses allowed", domain.UserSettings{MaxTradesPerDay: 50, MaxLossesPerDay: 0, MaxLossStreak: 3}, domain.UserState{}, ReasonMaxLosses},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, breachedLimit(tt.settings, tt.state))
		})
	}
}

func TestDayRollover_ClearsExpiredStop(t *testing.T) {
	e, _, clk := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")

	_, _ = e.RecordOutcome(ctx, "42", domain.OutcomeLoss)
	st, err := e.RecordOutcome(ctx, "42", domain.OutcomeLoss)
	require.NoError(t, err)
	require.True(t, st.IsTradingOff(t0))

	clk.Set(st.TradingOffUntil)
	st, err = e.RecordOutcome(ctx, "42", domain.OutcomeWin)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-02", st.DayKey)
	assert.Equal(t, 1, st.TradesToday)
	assert.Zero(t, st.TradingOffUntil)
	assert.Empty(t, st.OffReason)

	events, err := e.ListEvents(ctx, "42", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.EventRecord, domain.EventDayReset}, eventTypes(events))
	assert.Equal(t, "Reset to 2024-05-02", events[1].Detail)
}

func TestDayRollover_CarriesUnexpiredStop(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")

	_, _ = e.RecordOutcome(ctx, "42", domain.OutcomeLoss)
	stopped, err := e.RecordOutcome(ctx, "42", domain.OutcomeLoss)
	require.NoError(t, err)

	// moving west puts "now" back on the previous local day
	_, err = e.UpdateSettings(ctx, "42", domain.SettingsPatch{TimezoneOffsetMinutes: ptr(-720)})
	require.NoError(t, err)

	st, err := e.GetState(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "2024-04-30", st.DayKey)
	assert.Zero(t, st.TradesToday)
	assert.Zero(t, st.LossStreak)
	assert.Equal(t, stopped.TradingOffUntil, st.TradingOffUntil)
	assert.Equal(t, ReasonMaxStreak, st.OffReason)
}

func TestReconcile_StopExpiredSameDay(t *testing.T) {
	e, repo, _ := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")

	planted := domain.UserState{UserID: "42", DayKey: "2024-05-01", TradesToday: 2, TradingOffUntil: t0 - 10, OffReason: ReasonMaxTrades}
	require.NoError(t, repo.SaveState(ctx, planted, domain.Event{UserID: "42", Timestamp: t0 - 20, Type: domain.EventStopDay}))

	st, err := e.Reconcile(ctx, "42")
	require.NoError(t, err)
	assert.Zero(t, st.TradingOffUntil)
	assert.Empty(t, st.OffReason)
	assert.Equal(t, 2, st.TradesToday, "counters survive a same-day expiry")

	events, err := e.ListEvents(ctx, "42", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStopExpired, events[0].Type)
	assert.Equal(t, "Stop expired, trading enabled", events[0].Detail)
}

func TestUpdateSettings_Clamps(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")

	s, err := e.UpdateSettings(ctx, "42", domain.SettingsPatch{
		MaxTradesPerDay:       ptr(999),
		MaxLossesPerDay:       ptr(999),
		MaxLossStreak:         ptr(0),
		TimezoneOffsetMinutes: ptr(-9999),
	})
	require.NoError(t, err)
	assert.Equal(t, 50, s.MaxTradesPerDay)
	assert.Equal(t, 50, s.MaxLossesPerDay)
	assert.Equal(t, 1, s.MaxLossStreak)
	assert.Equal(t, -720, s.TimezoneOffsetMinutes)
	assert.Equal(t, t0, s.UpdatedAt)

	stored, err := e.GetSettings(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, s, stored)

	events, err := e.ListEvents(ctx, "42", 50)
	require.NoError(t, err)
	var detail string
	for _, ev := range events {
		if ev.Type == domain.EventSettingsUpdate {
			detail = ev.Detail
		}
	}
	assert.Equal(t, "mtd=50, mld=50, mls=1, tz=-720", detail)
}

func TestUpdateSettings_MissingFieldsUseDefaults(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")

	_, err := e.UpdateSettings(ctx, "42", domain.SettingsPatch{MaxTradesPerDay: ptr(20), MaxLossStreak: ptr(5)})
	require.NoError(t, err)

	s, err := e.UpdateSettings(ctx, "42", domain.SettingsPatch{MaxTradesPerDay: ptr(10)})
	require.NoError(t, err)
	assert.Equal(t, domain.UserSettings{
		UserID:                "42",
		MaxTradesPerDay:       10,
		MaxLossesPerDay:       domain.DefaultMaxLossesPerDay,
		MaxLossStreak:         domain.DefaultMaxLossStreak,
		TimezoneOffsetMinutes: domain.DefaultTimezoneOffsetMinutes,
		UpdatedAt:             t0,
	}, s)
}

func TestUpdateSettings_ResetAndStopInOneCall(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")

	_, err := e.UpdateSettings(ctx, "42", domain.SettingsPatch{MaxLossesPerDay: ptr(0), TimezoneOffsetMinutes: ptr(-720)})
	require.NoError(t, err)

	events, err := e.ListEvents(ctx, "42", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.EventStopDay, domain.EventDayReset, domain.EventSettingsUpdate}, eventTypes(events))
	for _, ev := range events {
		assert.Equal(t, t0, ev.Timestamp)
	}
	assert.Equal(t, "Reset to 2024-04-30", events[1].Detail)
	assert.Equal(t, fmt.Sprintf("Max losses per day reached; off until %d", may1+12*3600), events[0].Detail)
}

// stateWritesFail accepts settings writes but rejects standalone state writes
type stateWritesFail struct{ *repository.MemoryRepository }

func (stateWritesFail) SaveState(context.Context, domain.UserState, domain.Event) error {
	return errors.New("state table locked")
}

func TestUpdateSettings_StoresSettingsStateAndEventsTogether(t *testing.T) {
	e, repo, _ := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")

	atomic := NewGuardEngine(stateWritesFail{repo}, lock.NewMutexLocker(), WithClock(func() time.Time { return time.Unix(t0, 0) }))
	s, err := atomic.UpdateSettings(ctx, "42", domain.SettingsPatch{MaxLossesPerDay: ptr(0), TimezoneOffsetMinutes: ptr(-720)})
	require.NoError(t, err)
	assert.Equal(t, -720, s.TimezoneOffsetMinutes)

	st, err := e.GetState(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "2024-04-30", st.DayKey)
	assert.Equal(t, ReasonMaxLosses, st.OffReason)
	assert.Equal(t, may1+12*3600, st.TradingOffUntil)
	assert.Equal(t, t0, st.UpdatedAt)
}

func TestUpdateSettings_FailureStoresNothing(t *testing.T) {
	e, repo, _ := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")
	before, err := e.ListEvents(ctx, "42", 50)
	require.NoError(t, err)

	repo.FailWrites = errors.New("disk full")
	_, err = e.UpdateSettings(ctx, "42", domain.SettingsPatch{MaxLossesPerDay: ptr(0), TimezoneOffsetMinutes: ptr(-720)})
	assert.ErrorIs(t, err, domain.ErrPersistence)
	repo.FailWrites = nil

	s, err := e.GetSettings(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTimezoneOffsetMinutes, s.TimezoneOffsetMinutes)

	st, err := e.GetState(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", st.DayKey)
	assert.Zero(t, st.TradingOffUntil)

	after, err := e.ListEvents(ctx, "42", 50)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEnforceLimits_NeverExtendsAStop(t *testing.T) {
	e, _, clk := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")

	_, _ = e.RecordOutcome(ctx, "42", domain.OutcomeLoss)
	first, err := e.RecordOutcome(ctx, "42", domain.OutcomeLoss)
	require.NoError(t, err)

	clk.Set(t0 + 3600)
	_, err = e.UpdateSettings(ctx, "42", domain.SettingsPatch{MaxTradesPerDay: ptr(1)})
	require.NoError(t, err)
	st, err := e.EnforceLimits(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, first.TradingOffUntil, st.TradingOffUntil)
	assert.Equal(t, first.OffReason, st.OffReason)

	events, err := e.ListEvents(ctx, "42", 50)
	require.NoError(t, err)
	stops := 0
	for _, ev := range events {
		if ev.Type == domain.EventStopDay {
			stops++
		}
	}
	assert.Equal(t, 1, stops)
}

func TestListEvents_LimitNormalized(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")
	_, err := e.UpdateSettings(ctx, "42", domain.SettingsPatch{MaxTradesPerDay: ptr(50), MaxLossesPerDay: ptr(50), MaxLossStreak: ptr(50)})
	require.NoError(t, err)
	for i := 0; i < 49; i++ {
		_, err := e.RecordOutcome(ctx, "42", domain.OutcomeWin)
		require.NoError(t, err)
	}

	for _, tc := range []struct {
		limit, want int
	}{
		{0, 50}, {-3, 50}, {500, 50}, {2, 2}, {50, 50},
	} {
		events, err := e.ListEvents(ctx, "42", tc.limit)
		require.NoError(t, err)
		assert.Len(t, events, tc.want, "limit=%d", tc.limit)
	}
}

func TestRecordOutcome_ConcurrentCallersHonourLimit(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")
	_, err := e.UpdateSettings(ctx, "42", domain.SettingsPatch{MaxTradesPerDay: ptr(10), MaxLossesPerDay: ptr(50), MaxLossStreak: ptr(50)})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.RecordOutcome(ctx, "42", domain.OutcomeWin)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrTradingOff):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	assert.Equal(t, 15, rejected)

	st, err := e.GetState(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 10, st.TradesToday)
	assert.Equal(t, ReasonMaxTrades, st.OffReason)
}

func TestPersistenceFailure(t *testing.T) {
	e, repo, _ := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "42")

	before := testutil.ToFloat64(metrics.PersistenceErrors)
	boom := errors.New("disk full")
	repo.FailWrites = boom

	_, err := e.RecordOutcome(ctx, "42", domain.OutcomeLoss)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrTradingOff)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PersistenceErrors))

	repo.FailWrites = nil
	st, err := e.GetState(ctx, "42")
	require.NoError(t, err)
	assert.Zero(t, st.TradesToday)
}

func TestUnknownUser(t *testing.T) {
	e, _, _ := newEngine(t)
	_, err := e.RecordOutcome(context.Background(), "ghost", domain.OutcomeWin)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestCountTradingOff(t *testing.T) {
	e, _, clk := newEngine(t)
	ctx := context.Background()
	bootstrap(t, e, "a")
	bootstrap(t, e, "b")

	_, _ = e.RecordOutcome(ctx, "a", domain.OutcomeLoss)
	_, _ = e.RecordOutcome(ctx, "a", domain.OutcomeLoss)

	n, err := e.CountTradingOff(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clk.Set(may1 + 24*3600)
	n, err = e.CountTradingOff(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
