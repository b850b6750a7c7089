package domain

// UserSettings holds the per-user discipline thresholds
type UserSettings struct {
	UserID                string `json:"tg_user_id"`
	MaxTradesPerDay       int    `json:"max_trades_per_day"`
	MaxLossesPerDay       int    `json:"max_losses_per_day"`
	MaxLossStreak         int    `json:"max_loss_streak"`
	TimezoneOffsetMinutes int    `json:"timezone_offset_min"`
	UpdatedAt             int64  `json:"updated_at"`
}

// Default thresholds applied on first contact with a user
const (
	DefaultMaxTradesPerDay       = 6
	DefaultMaxLossesPerDay       = 3
	DefaultMaxLossStreak         = 2
	DefaultTimezoneOffsetMinutes = 60
)

// Clamp bounds for settings updates
const (
	MinTradesPerDay = 1
	MaxTradesPerDay = 50
	MinLossesPerDay = 0
	MaxLossesPerDay = 50
	MinLossStreak   = 1
	MaxLossStreak   = 50

	MinTimezoneOffsetMinutes = -720
	MaxTimezoneOffsetMinutes = 840
)

// DefaultSettings returns the settings a new user starts with
func DefaultSettings(userID string) UserSettings {
	return UserSettings{
		UserID:                userID,
		MaxTradesPerDay:       DefaultMaxTradesPerDay,
		MaxLossesPerDay:       DefaultMaxLossesPerDay,
		MaxLossStreak:         DefaultMaxLossStreak,
		TimezoneOffsetMinutes: DefaultTimezoneOffsetMinutes,
	}
}

// SettingsPatch is a candidate settings update. Nil fields fall back to the defaults.
type SettingsPatch struct {
	MaxTradesPerDay       *int
	MaxLossesPerDay       *int
	MaxLossStreak         *int
	TimezoneOffsetMinutes *int
}

// Resolve builds the clamped settings for userID. Values are never rejected.
func (p SettingsPatch) Resolve(userID string) UserSettings {
	return UserSettings{
		UserID:                userID,
		MaxTradesPerDay:       clampOr(p.MaxTradesPerDay, DefaultMaxTradesPerDay, MinTradesPerDay, MaxTradesPerDay),
		MaxLossesPerDay:       clampOr(p.MaxLossesPerDay, DefaultMaxLossesPerDay, MinLossesPerDay, MaxLossesPerDay),
		MaxLossStreak:         clampOr(p.MaxLossStreak, DefaultMaxLossStreak, MinLossStreak, MaxLossStreak),
		TimezoneOffsetMinutes: clampOr(p.TimezoneOffsetMinutes, DefaultTimezoneOffsetMinutes, MinTimezoneOffsetMinutes, MaxTimezoneOffsetMinutes),
	}
}

func clampOr(v *int, def, lo, hi int) int {
	x := def
	if v != nil {
		x = *v
	}
	return min(max(x, lo), hi)
}

// UserState is the per-user daily counter and stop state.
// TradingOffUntil is 0 exactly when OffReason is empty.
type UserState struct {
	UserID          string `json:"tg_user_id"`
	DayKey          string `json:"day_key"`
	TradesToday     int    `json:"trades_today"`
	LossesToday     int    `json:"losses_today"`
	LossStreak      int    `json:"loss_streak"`
	TradingOffUntil int64  `json:"trading_off_until_ts"`
	OffReason       string `json:"off_reason"`
	UpdatedAt       int64  `json:"updated_at"`
}

// NewUserState returns the empty state created together with the default settings
func NewUserState(userID string) UserState {
	return UserState{UserID: userID}
}

// IsTradingOff reports whether a stop is in force at now (epoch seconds)
func (s UserState) IsTradingOff(now int64) bool {
	return s.TradingOffUntil > now
}

// StopExpired reports whether a stop was set and its expiry has been reached
func (s UserState) StopExpired(now int64) bool {
	return s.TradingOffUntil > 0 && s.TradingOffUntil <= now
}

// ResetDay moves the state to a new local day. An unexpired stop is carried over.
func (s UserState) ResetDay(dayKey string, now int64) UserState {
	s.DayKey = dayKey
	s.TradesToday = 0
	s.LossesToday = 0
	s.LossStreak = 0
	if s.TradingOffUntil <= now {
		s = s.ClearStop()
	}
	return s
}

// ClearStop turns trading back on
func (s UserState) ClearStop() UserState {
	s.TradingOffUntil = 0
	s.OffReason = ""
	return s
}

// Stop turns trading off until the given instant
func (s UserState) Stop(until int64, reason string) UserState {
	s.TradingOffUntil = until
	s.OffReason = reason
	return s
}

// ApplyOutcome counts one recorded trade
func (s UserState) ApplyOutcome(o Outcome) UserState {
	s.TradesToday++
	switch o {
	case OutcomeLoss:
		s.LossesToday++
		s.LossStreak++
	case OutcomeWin:
		s.LossStreak = 0
	}
	return s
}

// Snapshot is the settings+state pair returned by every user-facing flow
type Snapshot struct {
	Settings UserSettings `json:"settings"`
	State    UserState    `json:"state"`
}
