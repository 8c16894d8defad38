package store

import "context"

// UserStore defines persistence operations for users.
type UserStore interface {
	// GetOrCreate returns the user with id, creating it from defaults when it
	// does not exist yet. The bool reports whether it was created.
	GetOrCreate(ctx context.Context, id string, defaults User) (*User, bool, error)
	Get(ctx context.Context, id string) (*User, error)
	Update(ctx context.Context, u *User) error
}

// SessionStore defines persistence operations for sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	// ListByUser returns the user's sessions, newest first. A limit of zero
	// or less applies a default of 50.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Session, error)
}

// Store bundles the record stores and their lifecycle.
type Store interface {
	Users() UserStore
	Sessions() SessionStore
	Close() error
}

const defaultListLimit = 50

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
