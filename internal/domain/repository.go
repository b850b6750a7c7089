package domain

import "context"

// GuardRepository persists users, settings, state and the event log.
// Every mutating call commits its audit event in the same transaction.
type GuardRepository interface {
	// EnsureUser creates the user with default settings and empty state if absent,
	// otherwise only refreshes the last-seen timestamp
	EnsureUser(ctx context.Context, userID string, now int64) error

	// GetSettings retrieves a user's settings
	GetSettings(ctx context.Context, userID string) (UserSettings, error)

	// GetState retrieves a user's state
	GetState(ctx context.Context, userID string) (UserState, error)

	// SaveSettings overwrites the settings and state rows and appends events in order,
	// all in one transaction
	SaveSettings(ctx context.Context, settings UserSettings, state UserState, events []Event) error

	// SaveState overwrites the state row and appends ev
	SaveState(ctx context.Context, state UserState, ev Event) error

	// ListEvents returns up to limit events, newest first
	ListEvents(ctx context.Context, userID string, limit int) ([]Event, error)

	// CountTradingOff counts users whose stop is still in force at now
	CountTradingOff(ctx context.Context, now int64) (int, error)

	// Ping checks the storage is reachable
	Ping(ctx context.Context) error
}

// UserLocker serializes operations on a single user
type UserLocker interface {
	// Lock blocks until the user's lock is held or ctx is done
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}
