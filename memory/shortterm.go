package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ThreadID names the short-term thread for a session and user.
func ThreadID(sessionID, userID string) string {
	return fmt.Sprintf("session_%s_%s", sessionID, userID)
}

// ShortTerm holds the messages of each user's active session. A user has at
// most one active thread; starting a new session replaces it. Adds for a
// user without an active thread are dropped.
type ShortTerm interface {
	Start(ctx context.Context, userID, sessionID string) (string, error)
	Add(ctx context.Context, userID string, msg Message) error
	Messages(ctx context.Context, userID string) ([]Message, error)
	Active(ctx context.Context, userID string) (bool, error)
	End(ctx context.Context, userID string) error
}

// MemoryShortTerm is an in-process ShortTerm.
type MemoryShortTerm struct {
	mu      sync.RWMutex
	active  map[string]string
	threads map[string][]Message
}

// NewMemoryShortTerm returns an empty in-process store.
func NewMemoryShortTerm() *MemoryShortTerm {
	return &MemoryShortTerm{
		active:  make(map[string]string),
		threads: make(map[string][]Message),
	}
}

func (m *MemoryShortTerm) Start(_ context.Context, userID, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.active[userID]; ok {
		delete(m.threads, prev)
	}
	id := ThreadID(sessionID, userID)
	m.active[userID] = id
	m.threads[id] = []Message{}
	return id, nil
}

func (m *MemoryShortTerm) Add(_ context.Context, userID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[userID]
	if !ok {
		return nil
	}
	m.threads[id] = append(m.threads[id], msg)
	return nil
}

func (m *MemoryShortTerm) Messages(_ context.Context, userID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[userID]
	if !ok {
		return []Message{}, nil
	}
	out := make([]Message, len(m.threads[id]))
	copy(out, m.threads[id])
	return out, nil
}

func (m *MemoryShortTerm) Active(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[userID]
	return ok, nil
}

func (m *MemoryShortTerm) End(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.active[userID]; ok {
		delete(m.threads, id)
		delete(m.active, userID)
	}
	return nil
}

// RedisClient is the subset of go-redis commands RedisShortTerm needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// DefaultShortTermTTL bounds how long an abandoned session lingers.
const DefaultShortTermTTL = 24 * time.Hour

// RedisShortTerm keeps each thread as a Redis list of JSON messages and a
// per-user pointer to the active thread. Both expire after TTL of
// inactivity.
type RedisShortTerm struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisShortTerm wraps an existing client. An empty prefix defaults to
// "mindcare:stm:" and a zero ttl to DefaultShortTermTTL.
func NewRedisShortTerm(client RedisClient, prefix string, ttl time.Duration) *RedisShortTerm {
	if prefix == "" {
		prefix = "mindcare:stm:"
	}
	if ttl <= 0 {
		ttl = DefaultShortTermTTL
	}
	return &RedisShortTerm{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisShortTerm) activeKey(userID string) string { return r.prefix + "active:" + userID }
func (r *RedisShortTerm) threadKey(id string) string     { return r.prefix + "thread:" + id }

// thread returns the user's active thread id, or "" when none.
func (r *RedisShortTerm) thread(ctx context.Context, userID string) (string, error) {
	id, err := r.client.Get(ctx, r.activeKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis active thread: %w", err)
	}
	return id, nil
}

func (r *RedisShortTerm) Start(ctx context.Context, userID, sessionID string) (string, error) {
	prev, err := r.thread(ctx, userID)
	if err != nil {
		return "", err
	}
	if prev != "" {
		if err := r.client.Del(ctx, r.threadKey(prev)).Err(); err != nil {
			return "", fmt.Errorf("redis drop thread: %w", err)
		}
	}
	id := ThreadID(sessionID, userID)
	if err := r.client.Set(ctx, r.activeKey(userID), id, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("redis start thread: %w", err)
	}
	return id, nil
}

func (r *RedisShortTerm) Add(ctx context.Context, userID string, msg Message) error {
	id, err := r.thread(ctx, userID)
	if err != nil || id == "" {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	key := r.threadKey(id)
	if err := r.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("redis add message: %w", err)
	}
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}
	if err := r.client.Expire(ctx, r.activeKey(userID), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}
	return nil
}

func (r *RedisShortTerm) Messages(ctx context.Context, userID string) ([]Message, error) {
	id, err := r.thread(ctx, userID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return []Message{}, nil
	}
	vals, err := r.client.LRange(ctx, r.threadKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read thread: %w", err)
	}
	out := make([]Message, 0, len(vals))
	for _, v := range vals {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *RedisShortTerm) Active(ctx context.Context, userID string) (bool, error) {
	id, err := r.thread(ctx, userID)
	return id != "", err
}

func (r *RedisShortTerm) End(ctx context.Context, userID string) error {
	id, err := r.thread(ctx, userID)
	if err != nil || id == "" {
		return err
	}
	if err := r.client.Del(ctx, r.threadKey(id), r.activeKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis end thread: %w", err)
	}
	return nil
}
