package storage

import (
	"context"
	"errors"
	"os"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrConflict is returned when a write would violate a uniqueness constraint.
var ErrConflict = errors.New("storage: record conflicts with an existing record")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Sessions() SessionStore
	Events() EventStore
	Accounts() AccountStore
}

// SessionStore manages work sessions.
type SessionStore interface {
	// Create persists a new open session and returns its assigned ID.
	Create(ctx context.Context, session Session) (string, error)
	Get(ctx context.Context, id string) (*Session, error)
	// Close sets the clock-out time and the computed minutes of a session.
	// Closing an already closed session overwrites its values.
	Close(ctx context.Context, id string, clockOut time.Time, workMinutes, sleepMinutes int) error
	// OpenForAccount returns the most recently started open session of an
	// account, or ErrNotFound.
	OpenForAccount(ctx context.Context, accountID string) (*Session, error)
	List(ctx context.Context, filter SessionFilter) ([]Session, error)
	ListOpen(ctx context.Context) ([]Session, error)
	DeleteForAccount(ctx context.Context, accountID string) (int, error)
}

// EventStore is the append-only log of sleep and idle events.
type EventStore interface {
	Append(ctx context.Context, event Event) error
	// Query returns the events of a session with one of the given types,
	// ordered by event time and then by append order. No types means all.
	Query(ctx context.Context, sessionID string, types ...EventType) ([]Event, error)
	// DeleteForSessions removes every event of the given sessions, whatever
	// account the events were stamped with.
	DeleteForSessions(ctx context.Context, sessionIDs ...string) (int, error)
}

// AccountStore manages user accounts.
type AccountStore interface {
	Get(ctx context.Context, id string) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	List(ctx context.Context) ([]Account, error)
	Upsert(ctx context.Context, account Account) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

// SessionFilter defines criteria for listing sessions. From and To bound
// the session date inclusively.
type SessionFilter struct {
	AccountID string
	From      *time.Time
	To        *time.Time
	OpenOnly  bool
}

// Matches reports whether a session satisfies the filter.
func (f SessionFilter) Matches(s Session) bool {
	if f.AccountID != "" && s.AccountID != f.AccountID {
		return false
	}
	if f.OpenOnly && !s.Open() {
		return false
	}
	if f.From != nil && s.SessionDate < f.From.Format(DateLayout) {
		return false
	}
	if f.To != nil && s.SessionDate > f.To.Format(DateLayout) {
		return false
	}
	return true
}

// EnsureDir creates a storage directory and its parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
