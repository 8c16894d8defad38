package scale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrCapacityExceeded is returned when a pool has no free slot.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// Pool names used by the service.
const (
	PoolTurns  = "turns"
	PoolFacial = "facial"
)

// Bulkhead isolates expensive work into named pools so a burst of one kind,
// such as image analysis, cannot starve conversation turns.
type Bulkhead struct {
	pools       map[string]*pool
	defaultPool *pool
	mu          sync.RWMutex
}

type pool struct {
	maxConcurrent int
	semaphore     chan struct{}
	rejected      atomic.Int64
	active        atomic.Int64
}

func newPool(max int) *pool {
	return &pool{maxConcurrent: max, semaphore: make(chan struct{}, max)}
}

// BulkheadStats holds current usage statistics for a pool.
type BulkheadStats struct {
	Pool          string `json:"pool"`
	Active        int    `json:"active"`
	MaxConcurrent int    `json:"max_concurrent"`
	Rejected      int64  `json:"rejected"`
}

// BulkheadConfig sets the default pool size and per-pool overrides.
type BulkheadConfig struct {
	DefaultMaxConcurrent int            `yaml:"defaultMaxConcurrent" json:"defaultMaxConcurrent"`
	Pools                map[string]int `yaml:"pools" json:"pools"`
}

// DefaultBulkheadConfig returns sensible defaults.
func DefaultBulkheadConfig() BulkheadConfig {
	return BulkheadConfig{
		DefaultMaxConcurrent: 32,
		Pools:                map[string]int{PoolTurns: 32, PoolFacial: 4},
	}
}

// NewBulkhead creates a new bulkhead with the given configuration.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.DefaultMaxConcurrent <= 0 {
		cfg.DefaultMaxConcurrent = 10
	}
	b := &Bulkhead{
		pools:       make(map[string]*pool),
		defaultPool: newPool(cfg.DefaultMaxConcurrent),
	}
	for name, max := range cfg.Pools {
		b.SetLimit(name, max)
	}
	return b
}

func (b *Bulkhead) get(name string) *pool {
	b.mu.RLock()
	p, ok := b.pools[name]
	b.mu.RUnlock()
	if ok {
		return p
	}
	return b.defaultPool
}

func (p *pool) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-p.semaphore
			p.active.Add(-1)
		})
	}
}

// Acquire takes a slot without waiting. It returns ErrCapacityExceeded when
// the pool is full; otherwise the returned function releases the slot.
func (b *Bulkhead) Acquire(_ context.Context, name string) (func(), error) {
	p := b.get(name)
	select {
	case p.semaphore <- struct{}{}:
		p.active.Add(1)
		return p.releaser(), nil
	default:
		p.rejected.Add(1)
		return nil, fmt.Errorf("%s: %w", name, ErrCapacityExceeded)
	}
}

// AcquireWait blocks until a slot is free or ctx is done.
func (b *Bulkhead) AcquireWait(ctx context.Context, name string) (func(), error) {
	p := b.get(name)
	select {
	case p.semaphore <- struct{}{}:
		p.active.Add(1)
		return p.releaser(), nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return nil, fmt.Errorf("bulkhead acquire for %s: %w", name, ctx.Err())
	}
}

// SetLimit gives a pool its own size. Slots held from a replaced pool are
// released into the old semaphore and do not count against the new one.
func (b *Bulkhead) SetLimit(name string, maxConcurrent int) {
	if maxConcurrent <= 0 {
		maxConcurrent = b.defaultPool.maxConcurrent
	}
	b.mu.Lock()
	b.pools[name] = newPool(maxConcurrent)
	b.mu.Unlock()
}

// Stats returns usage per pool, plus "_default".
func (b *Bulkhead) Stats() map[string]BulkheadStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := make(map[string]BulkheadStats, len(b.pools)+1)
	for name, p := range b.pools {
		stats[name] = p.stats(name)
	}
	stats["_default"] = b.defaultPool.stats("_default")
	return stats
}

func (p *pool) stats(name string) BulkheadStats {
	return BulkheadStats{
		Pool:          name,
		Active:        int(p.active.Load()),
		MaxConcurrent: p.maxConcurrent,
		Rejected:      p.rejected.Load(),
	}
}
