package store

import (
	"context"
	"time"

	"github.com/mycelian/cockpit/internal/model"
)

// Store exposes persistence operations required by services.
// Implementations live under internal/store/<driver>/ (postgres, sqlite).
// Every user-facing method takes the owning user ID and never returns another user's rows.
type Store interface {
	UserStates() UserStates
	Shown() Shown
	Pulses() Pulses
	Investments() Investments
	AlertRules() AlertRules
	Notifications() Notifications

	Migrate(ctx context.Context) error
	Close() error
}

type UserStates interface {
	// Ensure creates the row with default preferences if it does not exist.
	Ensure(ctx context.Context, userID string, now time.Time) error
	Get(ctx context.Context, userID string) (*model.UserState, error)
	// TouchOpened sets last_opened_at=now unless it was set less than debounce ago.
	// It is a single conditional upsert and reports whether the row was mutated.
	TouchOpened(ctx context.Context, userID string, now time.Time, debounce time.Duration) (bool, error)
	// SetTimezoneIfEmpty persists tz only when no timezone is stored yet.
	SetTimezoneIfEmpty(ctx context.Context, userID, tz string, now time.Time) (bool, error)
	// PutPrefs replaces the preference object; a stored timezone is kept.
	PutPrefs(ctx context.Context, userID string, p model.Prefs, now time.Time) error
	MarkEngaged(ctx context.Context, userID string, now time.Time) error
	MarkPulseViewed(ctx context.Context, userID, date string, now time.Time) error
	// ListForDigest pages through users ordered by ID for the digest scheduler.
	ListForDigest(ctx context.Context, afterUserID string, limit int) ([]model.UserState, error)
}

type Shown interface {
	// Upsert records a render of key. An existing row is refreshed only when its
	// shown_at is older than minRefresh; refreshed reports whether a write happened.
	Upsert(ctx context.Context, userID, key string, now time.Time, minRefresh time.Duration) (bool, error)
	// Since returns shown_at for the given keys rendered strictly after since.
	Since(ctx context.Context, userID string, keys []string, since time.Time) (map[string]time.Time, error)
	// PruneBefore physically deletes rows older than cutoff for all users.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Pulses interface {
	// InsertIfAbsent stores p unless a pulse already exists for (user, date).
	InsertIfAbsent(ctx context.Context, p *model.DailyPulse) (bool, error)
	Get(ctx context.Context, userID, date string) (*model.DailyPulse, error)
}

type Investments interface {
	Put(ctx context.Context, inv *model.Investment) error
	Delete(ctx context.Context, userID string, kind model.InvestmentKind, refID string) error
	List(ctx context.Context, userID string) ([]model.Investment, error)
}

type AlertRules interface {
	Put(ctx context.Context, rule *model.AlertRule) error
	Delete(ctx context.Context, userID, ruleID string) error
	List(ctx context.Context, userID string) ([]model.AlertRule, error)
}

type Notifications interface {
	// Reserve atomically counts one notification for (user, localDate) unless cap is reached.
	Reserve(ctx context.Context, userID, localDate string, cap int) (bool, error)
}
