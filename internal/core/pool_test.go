package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/giantswarm/fnhost/internal/metrics"
)

func newTestPool(t *testing.T, limit, capacity int, modify func(*PoolConfig)) (*Pool, *fakeFactory) {
	t.Helper()

	f := &fakeFactory{}
	cfg := PoolConfig{
		App:      "calc",
		Limit:    limit,
		Capacity: capacity,
		Factory:  f.new,
	}
	if modify != nil {
		modify(&cfg)
	}
	p := NewPool(cfg)
	t.Cleanup(func() { _ = p.Close() })
	return p, f
}

func TestNewPoolPanics(t *testing.T) {
	t.Parallel()

	f := &fakeFactory{}
	tests := map[string]struct {
		cfg     PoolConfig
		wantMsg string
	}{
		"zero limit": {
			cfg:     PoolConfig{Limit: 0, Capacity: 1, Factory: f.new},
			wantMsg: "pool limit must be greater than 0",
		},
		"nil factory": {
			cfg:     PoolConfig{Limit: 1, Capacity: 1},
			wantMsg: "pool factory must not be nil",
		},
		"zero capacity": {
			cfg:     PoolConfig{Limit: 1, Capacity: 0, Factory: f.new},
			wantMsg: "lru capacity must be greater than 0",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			requirePanicContains(t, func() {
				NewPool(tc.cfg)
			}, tc.wantMsg)
		})
	}
}

func TestPoolReuseAfterRelease(t *testing.T) {
	t.Parallel()

	p, f := newTestPool(t, 2, 4, nil)
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	firstID := first.ID()
	p.Release(first)

	if p.InUse() != 0 || p.Cached() != 1 {
		t.Fatalf("after release InUse=%d Cached=%d, want 0 and 1", p.InUse(), p.Cached())
	}

	second, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if second.Sandbox() != Sandbox(f.sandbox(0)) {
		t.Error("second Acquire did not reuse the released sandbox")
	}
	if second.ID() == firstID {
		t.Errorf("reused instance kept id %d; release must assign a new one", firstID)
	}
	if got := f.callCount.Load(); got != 1 {
		t.Errorf("factory called %d times, want 1", got)
	}

	res, err := second.Call("add", 1, 2)
	if err != nil || res != 3 {
		t.Errorf("Call(add, 1, 2) = (%v, %v), want 3", res, err)
	}
}

func TestPoolLimitBlocksThirdAcquire(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, 2, 4, nil)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	got := make(chan *OwnedInstance, 1)
	go func() {
		inst, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("third Acquire() error = %v", err)
		}
		got <- inst
	}()

	select {
	case <-got:
		t.Fatal("third Acquire returned while the limit was reached")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(a)

	select {
	case inst := <-got:
		if inst == nil || inst.Sandbox() != a.Sandbox() {
			t.Error("third Acquire did not get the released sandbox")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("third Acquire did not resume after a release")
	}
	if p.InUse() != 2 {
		t.Errorf("InUse() = %d, want 2", p.InUse())
	}
}

func TestPoolNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	const limit = 3
	p, _ := newTestPool(t, limit, 2, nil)

	var (
		current atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				inst, err := p.Acquire(context.Background())
				if err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(100 * time.Microsecond)
				current.Add(-1)
				p.Release(inst)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > limit {
		t.Errorf("peak concurrent acquisitions = %d, limit %d", got, limit)
	}
	if p.InUse() != 0 {
		t.Errorf("InUse() = %d after all releases, want 0", p.InUse())
	}
}

func TestPoolFactoryErrorReturnsSlot(t *testing.T) {
	t.Parallel()

	p, f := newTestPool(t, 1, 1, nil)
	f.failNext = 1

	if _, err := p.Acquire(context.Background()); !errors.Is(err, errFromFactory) {
		t.Fatalf("Acquire() error = %v, want %v", err, errFromFactory)
	}
	if p.InUse() != 0 {
		t.Fatalf("InUse() = %d after factory failure, want 0", p.InUse())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() after factory failure error = %v", err)
	}
}

func TestPoolAcquireContextCanceled(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, 1, 1, nil)
	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if p.InUse() != 1 {
		t.Errorf("InUse() = %d, want 1", p.InUse())
	}
}

func TestPoolTTLEviction(t *testing.T) {
	t.Parallel()

	clk := testingclock.NewFakePassiveClock(time.Now())
	p, f := newTestPool(t, 1, 4, func(c *PoolConfig) {
		c.TTL = time.Minute
		c.Clock = clk
	})
	ctx := context.Background()

	inst, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release(inst)

	clk.SetTime(clk.Now().Add(2 * time.Minute))

	inst, err = p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !f.sandbox(0).closed.Load() {
		t.Error("expired sandbox was not closed")
	}
	if inst.Sandbox() == Sandbox(f.sandbox(0)) {
		t.Error("Acquire returned an expired sandbox")
	}
	if p.InUse() != 1 {
		t.Errorf("InUse() = %d; eviction must not change admission", p.InUse())
	}
}

func TestPoolPurge(t *testing.T) {
	t.Parallel()

	clk := testingclock.NewFakePassiveClock(time.Now())
	p, f := newTestPool(t, 2, 4, func(c *PoolConfig) {
		c.TTL = time.Minute
		c.Clock = clk
	})

	a, _ := p.Acquire(context.Background())
	b, _ := p.Acquire(context.Background())
	p.Release(a)
	clk.SetTime(clk.Now().Add(30 * time.Second))
	p.Release(b)
	clk.SetTime(clk.Now().Add(45 * time.Second))

	if n := p.Purge(); n != 1 {
		t.Fatalf("Purge() = %d, want 1", n)
	}
	if !f.sandbox(0).closed.Load() || f.sandbox(1).closed.Load() {
		t.Error("Purge closed the wrong sandbox")
	}
	if p.Cached() != 1 {
		t.Errorf("Cached() = %d, want 1", p.Cached())
	}
}

func TestPoolCapacityEviction(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p, f := newTestPool(t, 2, 1, func(c *PoolConfig) { c.Metrics = m })

	a, _ := p.Acquire(context.Background())
	b, _ := p.Acquire(context.Background())
	p.Release(a)
	p.Release(b)

	if !f.sandbox(0).closed.Load() {
		t.Error("least recently released sandbox was not evicted")
	}
	if f.sandbox(1).closed.Load() {
		t.Error("most recently released sandbox was evicted")
	}
	if p.InUse() != 0 || p.Cached() != 1 {
		t.Errorf("InUse=%d Cached=%d, want 0 and 1", p.InUse(), p.Cached())
	}
	if got := testutil.ToFloat64(m.Evictions.WithLabelValues("calc", "capacity")); got != 1 {
		t.Errorf("capacity evictions = %v, want 1", got)
	}
}

func TestPoolCloseWakesWaiters(t *testing.T) {
	t.Parallel()

	p, f := newTestPool(t, 1, 2, nil)
	held, _ := p.Acquire(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrPoolClosed) {
			t.Errorf("waiting Acquire() error = %v, want %v", err, ErrPoolClosed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not wake the waiting Acquire")
	}

	p.Release(held)
	if !f.sandbox(0).closed.Load() {
		t.Error("instance released to a closed pool was not closed")
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire() on closed pool error = %v, want %v", err, ErrPoolClosed)
	}
}

func TestPoolCloseReclaimsIdle(t *testing.T) {
	t.Parallel()

	p, f := newTestPool(t, 2, 2, nil)
	a, _ := p.Acquire(context.Background())
	b, _ := p.Acquire(context.Background())
	p.Release(a)
	p.Release(b)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for i := range 2 {
		if !f.sandbox(i).closed.Load() {
			t.Errorf("sandbox %d not closed", i)
		}
	}
	if p.Cached() != 0 {
		t.Errorf("Cached() = %d, want 0", p.Cached())
	}
}

func TestPoolAdoptsForeignInstance(t *testing.T) {
	t.Parallel()

	old, _ := newTestPool(t, 1, 1, nil)
	inst, err := old.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	fresh, _ := newTestPool(t, 1, 1, nil)
	fresh.Release(inst)

	if fresh.InUse() != 0 {
		t.Errorf("InUse() = %d; adopting must not touch the counter", fresh.InUse())
	}
	if fresh.Cached() != 1 {
		t.Errorf("Cached() = %d, want 1", fresh.Cached())
	}

	got, err := fresh.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got != inst {
		t.Error("adopted instance was not reused")
	}
}

func TestPoolGateWaitsMetric(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	p, _ := newTestPool(t, 1, 1, func(c *PoolConfig) { c.Metrics = m })

	held, _ := p.Acquire(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		inst, err := p.Acquire(context.Background())
		if err == nil {
			p.Release(inst)
		}
	}()
	time.Sleep(20 * time.Millisecond)
	p.Release(held)
	<-done

	if got := testutil.ToFloat64(m.GateWaits.WithLabelValues("calc")); got != 1 {
		t.Errorf("gate waits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheHits.WithLabelValues("calc")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
}
