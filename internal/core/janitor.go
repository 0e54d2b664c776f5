package core

import (
	"context"
	"sync"

	"k8s.io/apimachinery/pkg/util/wait"
)

// janitor periodically closes idle owned instances whose TTL has passed.
// Expiry is otherwise only noticed when a pool is touched, so an app that
// stops receiving calls would keep its sandboxes forever.
type janitor struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (m *Manager) startJanitor() {
	if m.cfg.PurgeInterval <= 0 || m.cfg.InstanceTTL <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &janitor{cancel: cancel}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		wait.UntilWithContext(ctx, func(context.Context) {
			if n := m.PurgeExpired(); n > 0 {
				Logger().Debug("purged expired instances", "count", n)
			}
		}, m.cfg.PurgeInterval)
	}()
	m.janitor = j
}

func (m *Manager) stopJanitor() {
	if m.janitor == nil {
		return
	}
	m.janitor.cancel()
	m.janitor.wg.Wait()
	m.janitor = nil
}

// PurgeExpired closes every expired idle owned instance of every app and
// returns how many were closed.
func (m *Manager) PurgeExpired() int {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.apps))
	for _, c := range m.apps {
		if oc, ok := c.(*ownedAppCache); ok {
			pools = append(pools, oc.pool)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, p := range pools {
		n += p.Purge()
	}
	return n
}
