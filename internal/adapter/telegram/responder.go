package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradeguard/internal/domain"
	"tradeguard/internal/utils"
)

const (
	msgStart   = "🛡 Trade Guard is active.\n\nI will track your limits and stop trading for the day when one is hit.\nUse /help to see the commands."
	msgPing    = "✅ Trade Guard online"
	msgUnknown = "Command not recognized. Send /start"
	msgFailed  = "⚠️ Something went wrong, please try again later."
	msgHelp    = "/status - limits and today's counters\n" +
		"/win, /loss - record a trade outcome\n" +
		"/events - recent activity\n" +
		"/settings trades=N losses=N streak=N tz=MINUTES - change limits\n" +
		"/ping - check the bot"
)

// Responder turns chat commands into guard calls. It knows nothing about Telegram.
type Responder struct {
	guard domain.GuardService
	log   *zap.Logger
}

// NewResponder creates a new Responder
func NewResponder(guard domain.GuardService, log *zap.Logger) *Responder {
	return &Responder{guard: guard, log: log}
}

// Handle returns the reply for one incoming message
func (r *Responder) Handle(ctx context.Context, userID, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return msgUnknown
	}
	// "/status@SomeBot" in group chats
	cmd, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	args := fields[1:]

	switch cmd {
	case "/start":
		if _, err := r.guard.Bootstrap(ctx, userID); err != nil {
			return r.failed(userID, cmd, err)
		}
		return msgStart
	case "/help":
		return msgHelp
	case "/ping":
		return msgPing
	case "/status":
		snap, err := r.guard.Bootstrap(ctx, userID)
		if err != nil {
			return r.failed(userID, cmd, err)
		}
		return formatStatus(snap)
	case "/win":
		return r.record(ctx, userID, domain.OutcomeWin)
	case "/loss":
		return r.record(ctx, userID, domain.OutcomeLoss)
	case "/events":
		return r.events(ctx, userID)
	case "/settings":
		return r.settings(ctx, userID, args)
	}
	return msgUnknown
}

func (r *Responder) failed(userID, cmd string, err error) string {
	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return "⚠️ " + valErr.Message
	}
	r.log.Error("bot command failed", zap.String("user_id", userID), zap.String("command", cmd), zap.Error(err))
	return msgFailed
}

func (r *Responder) record(ctx context.Context, userID string, outcome domain.Outcome) string {
	snap, err := r.guard.Record(ctx, userID, outcome)
	var offErr *domain.TradingOffError
	switch {
	case errors.As(err, &offErr):
		return fmt.Sprintf("⛔ Trading is off: %s.\nBack on %s.",
			offErr.State.OffReason, formatUntil(offErr.State.TradingOffUntil, snap.Settings.TimezoneOffsetMinutes))
	case err != nil:
		return r.failed(userID, "/"+strings.ToLower(string(outcome)), err)
	}

	reply := fmt.Sprintf("Recorded %s.\n\n%s", outcome, formatStatus(snap))
	if snap.State.TradingOffUntil > 0 {
		reply = fmt.Sprintf("⛔ %s. Trading is off for the rest of the day.\n\n%s", snap.State.OffReason, formatStatus(snap))
	}
	return reply
}

func (r *Responder) events(ctx context.Context, userID string) string {
	events, err := r.guard.Events(ctx, userID, 10)
	if err != nil {
		return r.failed(userID, "/events", err)
	}
	if len(events) == 0 {
		return "No events yet."
	}
	var b strings.Builder
	b.WriteString("Recent events:\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "%s  %s  %s\n", time.Unix(ev.Timestamp, 0).UTC().Format("01-02 15:04"), ev.Type, ev.Detail)
	}
	return strings.TrimRight(b.String(), "\n")
}

// settings merges key=value args into the current settings.
// Unlike the HTTP route, keys left out keep their current value.
func (r *Responder) settings(ctx context.Context, userID string, args []string) string {
	current, err := r.guard.Bootstrap(ctx, userID)
	if err != nil {
		return r.failed(userID, "/settings", err)
	}
	if len(args) == 0 {
		return formatSettings(current.Settings) + "\n\nChange with: /settings trades=N losses=N streak=N tz=MINUTES"
	}

	s := current.Settings
	patch := domain.SettingsPatch{
		MaxTradesPerDay:       &s.MaxTradesPerDay,
		MaxLossesPerDay:       &s.MaxLossesPerDay,
		MaxLossStreak:         &s.MaxLossStreak,
		TimezoneOffsetMinutes: &s.TimezoneOffsetMinutes,
	}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		n, convErr := strconv.Atoi(raw)
		if !ok || convErr != nil {
			return fmt.Sprintf("⚠️ Cannot read %q. Use key=number, e.g. trades=5", arg)
		}
		switch strings.ToLower(key) {
		case "trades":
			patch.MaxTradesPerDay = &n
		case "losses":
			patch.MaxLossesPerDay = &n
		case "streak":
			patch.MaxLossStreak = &n
		case "tz":
			patch.TimezoneOffsetMinutes = &n
		default:
			return fmt.Sprintf("⚠️ Unknown setting %q. Known: trades, losses, streak, tz", key)
		}
	}

	snap, err := r.guard.UpdateSettings(ctx, userID, patch)
	if err != nil {
		return r.failed(userID, "/settings", err)
	}
	return "Settings saved.\n\n" + formatStatus(snap)
}

func formatSettings(s domain.UserSettings) string {
	return fmt.Sprintf("Limits: %d trades, %d losses, %d loss streak per day (%s)",
		s.MaxTradesPerDay, s.MaxLossesPerDay, s.MaxLossStreak, utils.FormatOffset(s.TimezoneOffsetMinutes))
}

func formatStatus(snap domain.Snapshot) string {
	st := snap.State
	status := "🟢 Trading on"
	if st.TradingOffUntil > 0 {
		status = fmt.Sprintf("🔴 Trading off until %s (%s)", formatUntil(st.TradingOffUntil, snap.Settings.TimezoneOffsetMinutes), st.OffReason)
	}
	return fmt.Sprintf("%s\nToday %s: %d trades, %d losses, streak %d\n%s",
		status, st.DayKey, st.TradesToday, st.LossesToday, st.LossStreak, formatSettings(snap.Settings))
}

// formatUntil renders an epoch instant in the user's local offset
func formatUntil(ts int64, tzOffsetMinutes int) string {
	zone := time.FixedZone(utils.FormatOffset(tzOffsetMinutes), tzOffsetMinutes*60)
	return time.Unix(ts, 0).In(zone).Format("2006-01-02 15:04 MST")
}
