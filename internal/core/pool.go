package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/giantswarm/fnhost/internal/lru"
	"github.com/giantswarm/fnhost/internal/metrics"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	App string
	// Limit bounds concurrently acquired instances.
	Limit int
	// Capacity bounds stored idle instances.
	Capacity int
	// TTL is how long an idle instance is stored. Zero keeps instances until
	// capacity pressure evicts them.
	TTL time.Duration
	// Factory creates a sandbox on a cache miss.
	Factory func(ctx context.Context) (Sandbox, error)

	Metrics *metrics.Metrics
	Clock   clock.PassiveClock
	Logger  *slog.Logger
}

// Pool hands out exclusive owned instances of one app. At most Limit
// instances are acquired at a time; further Acquire calls wait for a
// Release. Released instances are stored for reuse until they expire or are
// pushed out by newer ones.
//
// The admission counter and the store are independent: evicting an idle
// instance never changes how many acquisitions are admitted.
type Pool struct {
	app     string
	limit   int
	factory func(ctx context.Context) (Sandbox, error)
	metrics *metrics.Metrics
	log     *slog.Logger

	cache *lru.Cache[uint64, *OwnedInstance]

	mu     sync.Mutex
	using  int
	nextID uint64
	closed bool
	// wake is closed and replaced on every slot release; all waiters re-check
	// the counter.
	wake    chan struct{}
	closeCh chan struct{}
}

// NewPool creates a Pool. Panics on a non-positive limit or capacity or a nil
// factory.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Limit <= 0 {
		panic(fmt.Sprintf("fnhost: pool limit must be greater than 0, got %d", cfg.Limit))
	}
	if cfg.Factory == nil {
		panic("fnhost: pool factory must not be nil")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pool{
		app:     cfg.App,
		limit:   cfg.Limit,
		factory: cfg.Factory,
		metrics: cfg.Metrics,
		log:     cfg.Logger.With("app", cfg.App),
		wake:    make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	p.cache = lru.New(lru.Config[uint64, *OwnedInstance]{
		Capacity: cfg.Capacity,
		TTL:      cfg.TTL,
		OnEvict:  p.evicted,
		Clock:    cfg.Clock,
	})
	return p
}

func (p *Pool) evicted(id uint64, inst *OwnedInstance, reason lru.EvictReason) {
	p.metrics.Evictions.WithLabelValues(p.app, reason.String()).Inc()
	p.metrics.PoolCached.WithLabelValues(p.app).Set(float64(p.cache.Len()))
	if err := inst.close(); err != nil {
		p.log.Warn("closing evicted instance failed", "id", id, "reason", reason, "error", err)
		return
	}
	p.log.Debug("evicted instance", "id", id, "reason", reason)
}

// Acquire returns an instance for exclusive use, waiting while Limit
// instances are in use. It returns the context error if ctx ends first and
// ErrPoolClosed if the pool closes. The most recently released unexpired
// instance is reused; otherwise a new one is created.
func (p *Pool) Acquire(ctx context.Context) (*OwnedInstance, error) {
	if err := p.admit(ctx); err != nil {
		return nil, err
	}

	if _, inst, ok := p.cache.Pop(); ok {
		p.metrics.CacheHits.WithLabelValues(p.app).Inc()
		p.metrics.PoolCached.WithLabelValues(p.app).Set(float64(p.cache.Len()))
		return inst, nil
	}
	p.metrics.CacheMisses.WithLabelValues(p.app).Inc()

	sb, err := p.factory(ctx)
	if err != nil {
		p.releaseSlot()
		return nil, fmt.Errorf("create instance of %s: %w", p.app, err)
	}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	return &OwnedInstance{app: p.app, sandbox: sb, id: id, pool: p}, nil
}

// admit takes an admission slot.
func (p *Pool) admit(ctx context.Context) error {
	waited := false
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrPoolClosed
		}
		p.using++
		if p.using <= p.limit {
			p.metrics.PoolInUse.WithLabelValues(p.app).Set(float64(p.using))
			p.mu.Unlock()
			return nil
		}
		p.using--
		wake := p.wake
		p.mu.Unlock()

		if !waited {
			waited = true
			p.metrics.GateWaits.WithLabelValues(p.app).Inc()
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.closeCh:
			return ErrPoolClosed
		}
	}
}

// releaseSlot returns an admission slot and wakes every waiter.
func (p *Pool) releaseSlot() {
	p.mu.Lock()
	p.using--
	p.metrics.PoolInUse.WithLabelValues(p.app).Set(float64(p.using))
	close(p.wake)
	p.wake = make(chan struct{})
	p.mu.Unlock()
}

// Release stores inst under a fresh id and frees its admission slot. An
// instance acquired from another pool is stored without touching the
// counter. On a closed pool the instance is closed instead.
func (p *Pool) Release(inst *OwnedInstance) {
	p.mu.Lock()
	ours := inst.pool == p
	if p.closed {
		p.mu.Unlock()
		if err := inst.close(); err != nil {
			p.log.Warn("closing instance released to closed pool failed", "error", err)
		}
		if ours {
			p.releaseSlot()
		}
		return
	}
	inst.id = p.nextID
	p.nextID++
	inst.pool = p
	// Stored under p.mu so Close cannot miss it.
	p.cache.Add(inst.id, inst)
	p.mu.Unlock()

	p.metrics.PoolCached.WithLabelValues(p.app).Set(float64(p.cache.Len()))
	if ours {
		p.releaseSlot()
	}
}

// Close wakes every waiter with ErrPoolClosed and closes the stored
// instances. Instances still acquired are closed when released. Close is
// idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closeCh)
	idle := p.cache.Drain()
	p.mu.Unlock()

	var errs []error
	for _, inst := range idle {
		if err := inst.close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.metrics.PoolCached.WithLabelValues(p.app).Set(0)
	p.log.Debug("pool closed", "closed_instances", len(idle))
	return errors.Join(errs...)
}

// Purge closes every expired idle instance and returns how many were
// dropped.
func (p *Pool) Purge() int {
	return p.cache.Purge()
}

// InUse returns the number of acquired instances.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.using
}

// Cached returns the number of stored idle instances, including expired
// ones not yet purged.
func (p *Pool) Cached() int {
	return p.cache.Len()
}

// Limit returns the admission limit.
func (p *Pool) Limit() int {
	return p.limit
}
