package scale

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// DistributedLock serialises work on a key, typically "user:<id>", so two
// turns or a turn and a checkpoint restore never interleave.
type DistributedLock interface {
	// Acquire obtains a lock for the given key. Returns a release function.
	// Blocks until the lock is acquired or context is cancelled.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
	// TryAcquire attempts to acquire a lock without blocking.
	// Returns false if the lock is already held.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// UserKey is the lock key guarding a user's conversation state.
func UserKey(userID string) string { return "user:" + userID }

// --- InMemoryLock ---

// InMemoryLock implements DistributedLock for tests and single-server
// deployments. Entries are dropped once nobody holds or waits for them.
type InMemoryLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	held    bool
	refs    int
	waiters chan struct{}
}

// NewInMemoryLock creates a new in-memory lock.
func NewInMemoryLock() *InMemoryLock {
	return &InMemoryLock{locks: make(map[string]*lockEntry)}
}

// ref returns the entry for key with its reference count incremented.
func (l *InMemoryLock) ref(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{waiters: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *InMemoryLock) unref(key string, entry *lockEntry) {
	entry.refs--
	if entry.refs == 0 && !entry.held {
		delete(l.locks, key)
	}
}

// tryTake marks the entry held. It must be called with l.mu held.
func (l *InMemoryLock) tryTake(entry *lockEntry) bool {
	if entry.held {
		return false
	}
	entry.held = true
	return true
}

func (l *InMemoryLock) releaser(ctx context.Context, key string, entry *lockEntry, ttl time.Duration) func() {
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			entry.held = false
			l.unref(key, entry)
			l.mu.Unlock()
			select {
			case entry.waiters <- struct{}{}:
			default:
			}
		})
	}
	if ttl > 0 {
		go func() {
			timer := time.NewTimer(ttl)
			defer timer.Stop()
			select {
			case <-timer.C:
				release()
			case <-ctx.Done():
			}
		}()
	}
	return release
}

// Acquire obtains a lock for the given key, blocking until acquired or
// context cancelled.
func (l *InMemoryLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	entry := l.ref(key)
	for {
		l.mu.Lock()
		if l.tryTake(entry) {
			l.mu.Unlock()
			return l.releaser(ctx, key, entry, ttl), nil
		}
		l.mu.Unlock()

		select {
		case <-entry.waiters:
		case <-ctx.Done():
			l.mu.Lock()
			l.unref(key, entry)
			l.mu.Unlock()
			return nil, fmt.Errorf("acquire lock for %s: %w", key, ctx.Err())
		}
	}
}

// TryAcquire attempts to acquire a lock without blocking.
func (l *InMemoryLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	entry := l.ref(key)
	l.mu.Lock()
	if !l.tryTake(entry) {
		l.unref(key, entry)
		l.mu.Unlock()
		return nil, false, nil
	}
	l.mu.Unlock()
	return l.releaser(ctx, key, entry, ttl), true, nil
}

// size reports how many keys are tracked.
func (l *InMemoryLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// --- PGAdvisoryLock ---

// PGAdvisoryLock implements DistributedLock using PostgreSQL advisory locks
// (pg_advisory_lock / pg_advisory_unlock). The key string is hashed to int64
// for use as the lock ID. The ttl is not supported; the lock is held until
// released or the connection closes.
type PGAdvisoryLock struct {
	pool *pgxpool.Pool
}

// NewPGAdvisoryLock creates a PostgreSQL advisory lock over pool.
func NewPGAdvisoryLock(pool *pgxpool.Pool) *PGAdvisoryLock {
	return &PGAdvisoryLock{pool: pool}
}

// Acquire obtains a PostgreSQL advisory lock for the given key.
func (l *PGAdvisoryLock) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	lockID := hashToInt64(key)

	// The advisory lock belongs to the session, so the connection is held
	// until release.
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection for %s: %w", key, err)
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire lock for %s: %w", key, err)
	}
	return pgReleaser(conn, lockID), nil
}

// TryAcquire attempts to acquire a PostgreSQL advisory lock without blocking.
func (l *PGAdvisoryLock) TryAcquire(ctx context.Context, key string, _ time.Duration) (func(), bool, error) {
	lockID := hashToInt64(key)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("try acquire lock connection for %s: %w", key, err)
	}
	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try acquire lock for %s: %w", key, err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}
	return pgReleaser(conn, lockID), true, nil
}

func pgReleaser(conn *pgxpool.Conn, lockID int64) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be cancelled.
			_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockID)
			conn.Release()
		})
	}
}

// hashToInt64 converts a string key to an int64 using FNV-1a hash.
// The same key always produces the same hash value.
func hashToInt64(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	v := h.Sum64() & 0x7FFFFFFFFFFFFFFF // Clear sign bit; always <= math.MaxInt64.
	return int64(v)                     //nolint:gosec // masked to non-negative range
}

// --- RedisLock ---

const (
	defaultRedisLockPrefix = "mindcare:lock:"
	defaultRedisLockTTL    = 2 * time.Minute
	redisLockRetry         = 50 * time.Millisecond
)

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock implements DistributedLock with SET NX PX and a random token, so
// only the holder can release. A zero ttl uses the default so a crashed
// holder cannot block a user forever.
type RedisLock struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedisLock creates a Redis lock connected to addr.
func NewRedisLock(addr string) *RedisLock {
	return NewRedisLockWithOptions(addr, "", 0)
}

// NewRedisLockWithOptions creates a Redis lock with a key prefix and default
// ttl. Empty values use "mindcare:lock:" and two minutes.
func NewRedisLockWithOptions(addr, prefix string, defaultTTL time.Duration) *RedisLock {
	return NewRedisLockWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix, defaultTTL)
}

// NewRedisLockWithClient wraps an existing client.
func NewRedisLockWithClient(client *redis.Client, prefix string, defaultTTL time.Duration) *RedisLock {
	if prefix == "" {
		prefix = defaultRedisLockPrefix
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultRedisLockTTL
	}
	return &RedisLock{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

// Close closes the underlying client.
func (l *RedisLock) Close() error {
	return l.client.Close()
}

func (l *RedisLock) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return l.defaultTTL
	}
	return ttl
}

// Acquire polls until the lock is free or ctx is done.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	ticker := time.NewTicker(redisLockRetry)
	defer ticker.Stop()
	for {
		release, ok, err := l.TryAcquire(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock for %s: %w", key, ctx.Err())
		}
	}
}

// TryAcquire attempts a single SET NX.
func (l *RedisLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, l.ttl(ttl)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("try acquire lock for %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return l.buildRelease(key, token), true, nil
}

func (l *RedisLock) buildRelease(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// A failed release is reclaimed by the ttl.
			_ = releaseScript.Run(context.Background(), l.client, []string{l.prefix + key}, token).Err()
		})
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
