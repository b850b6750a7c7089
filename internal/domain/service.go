package domain

import "context"

// GuardService is the narrow interface the HTTP layer and the chat bot call into
type GuardService interface {
	// Bootstrap ensures the user exists, reconciles and enforces limits
	Bootstrap(ctx context.Context, userID string) (Snapshot, error)

	// UpdateSettings clamps and stores the candidate settings
	UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (Snapshot, error)

	// Record counts a trade outcome; returns *TradingOffError while suspended
	Record(ctx context.Context, userID string, outcome Outcome) (Snapshot, error)

	// Events lists the most recent events, newest first
	Events(ctx context.Context, userID string, limit int) ([]Event, error)
}
