package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/mindcare/memory"
)

// MemoryStore is an in-process Store for tests and development.
type MemoryStore struct {
	users    *MemoryUserStore
	sessions *MemorySessionStore
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	users := &MemoryUserStore{users: make(map[string]*User)}
	return &MemoryStore{
		users:    users,
		sessions: &MemorySessionStore{sessions: make(map[string]*Session), users: users},
	}
}

func (m *MemoryStore) Users() UserStore       { return m.users }
func (m *MemoryStore) Sessions() SessionStore { return m.sessions }
func (m *MemoryStore) Close() error           { return nil }

// ---------------------------------------------------------------------------
// MemoryUserStore
// ---------------------------------------------------------------------------

// MemoryUserStore is an in-memory UserStore.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[string]*User
}

func (s *MemoryUserStore) GetOrCreate(_ context.Context, id string, defaults User) (*User, bool, error) {
	if id == "" {
		return nil, false, ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, false, nil
	}
	u := defaults
	u.ID = id
	u.normalize()
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[id] = &u
	cp := u
	return &cp, true, nil
}

func (s *MemoryUserStore) Get(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) Update(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	u.normalize()
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryUserStore) exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[id]
	return ok
}

// ---------------------------------------------------------------------------
// MemorySessionStore
// ---------------------------------------------------------------------------

// MemorySessionStore is an in-memory SessionStore.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	users    *MemoryUserStore
}

func (s *MemorySessionStore) Create(_ context.Context, sess *Session) error {
	if sess.UserID == "" {
		return ErrInvalid
	}
	if s.users != nil && !s.users.exists(sess.UserID) {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrDuplicate
	}
	sess.normalize()
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *MemorySessionStore) Update(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sess.ID]
	if !ok {
		return ErrNotFound
	}
	sess.normalize()
	sess.UserID = existing.UserID
	sess.CreatedAt = existing.CreatedAt
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *MemorySessionStore) ListByUser(_ context.Context, userID string, limit int) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, cloneSession(sess))
		}
	}
	slices.SortFunc(out, func(a, b *Session) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if n := listLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func cloneSession(s *Session) *Session {
	cp := *s
	cp.Messages = append([]memory.Message(nil), s.Messages...)
	if cp.Messages == nil {
		cp.Messages = []memory.Message{}
	}
	return &cp
}
