package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tradeguard/internal/domain"
)

type memoryUser struct {
	createdAt int64
	updatedAt int64
	settings  domain.UserSettings
	state     domain.UserState
}

// MemoryRepository keeps everything in process memory. Used in tests and STORE_DRIVER=memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	users  map[string]*memoryUser
	events []domain.Event
	nextID int64

	// FailWrites makes every mutating call fail, for error-path tests
	FailWrites error
}

// NewMemoryRepository creates an empty MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*memoryUser)}
}

// EnsureUser creates the user if absent, otherwise refreshes updatedAt
func (r *MemoryRepository) EnsureUser(ctx context.Context, userID string, now int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites != nil {
		return fmt.Errorf("failed to ensure user: %w", r.FailWrites)
	}

	if u, ok := r.users[userID]; ok {
		u.updatedAt = now
		return nil
	}

	settings := domain.DefaultSettings(userID)
	settings.UpdatedAt = now
	state := domain.NewUserState(userID)
	state.UpdatedAt = now
	r.users[userID] = &memoryUser{createdAt: now, updatedAt: now, settings: settings, state: state}
	return nil
}

// GetSettings retrieves a user's settings
func (r *MemoryRepository) GetSettings(ctx context.Context, userID string) (domain.UserSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return domain.UserSettings{}, fmt.Errorf("failed to get settings for %s: %w", userID, domain.ErrUserNotFound)
	}
	return u.settings, nil
}

// GetState retrieves a user's state
func (r *MemoryRepository) GetState(ctx context.Context, userID string) (domain.UserState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return domain.UserState{}, fmt.Errorf("failed to get state for %s: %w", userID, domain.ErrUserNotFound)
	}
	return u.state, nil
}

// SaveSettings overwrites settings and state and appends events
func (r *MemoryRepository) SaveSettings(ctx context.Context, settings domain.UserSettings, state domain.UserState, events []domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites != nil {
		return fmt.Errorf("failed to save settings: %w", r.FailWrites)
	}
	u, ok := r.users[settings.UserID]
	if !ok {
		return fmt.Errorf("failed to save settings for %s: %w", settings.UserID, domain.ErrUserNotFound)
	}
	su, ok := r.users[state.UserID]
	if !ok {
		return fmt.Errorf("failed to save settings for %s: %w", settings.UserID, domain.ErrUserNotFound)
	}
	u.settings = settings
	su.state = state
	for _, ev := range events {
		r.appendLocked(ev)
	}
	return nil
}

// SaveState overwrites the state and appends ev
func (r *MemoryRepository) SaveState(ctx context.Context, state domain.UserState, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites != nil {
		return fmt.Errorf("failed to save state: %w", r.FailWrites)
	}
	u, ok := r.users[state.UserID]
	if !ok {
		return fmt.Errorf("failed to save state for %s: %w", state.UserID, domain.ErrUserNotFound)
	}
	u.state = state
	r.appendLocked(ev)
	return nil
}

func (r *MemoryRepository) appendLocked(ev domain.Event) {
	r.nextID++
	ev.ID = r.nextID
	r.events = append(r.events, ev)
}

// ListEvents returns up to limit events for userID, newest first
func (r *MemoryRepository) ListEvents(ctx context.Context, userID string, limit int) ([]domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Event
	for _, ev := range r.events {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountTradingOff counts users whose stop is in force at now
func (r *MemoryRepository) CountTradingOff(ctx context.Context, now int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, u := range r.users {
		if u.state.IsTradingOff(now) {
			n++
		}
	}
	return n, nil
}

// Ping always succeeds
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// LastSeen returns the user's last-seen timestamp
func (r *MemoryRepository) LastSeen(userID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return 0, false
	}
	return u.updatedAt, true
}
