package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errFromFactory = errors.New("factory failure")

// fakeSandbox records calls and closes. Call("add", a, b) returns a+b.
type fakeSandbox struct {
	id     int
	closed atomic.Bool
}

func (s *fakeSandbox) Call(fn string, args ...any) (any, error) {
	if s.closed.Load() {
		return nil, errors.New("sandbox closed")
	}
	if fn != "add" || len(args) != 2 {
		return nil, fmt.Errorf("unknown function %s", fn)
	}
	return args[0].(int) + args[1].(int), nil
}

func (s *fakeSandbox) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return errors.New("closed twice")
	}
	return nil
}

// fakeFactory hands out numbered fakeSandboxes and remembers them.
type fakeFactory struct {
	mu        sync.Mutex
	created   []*fakeSandbox
	failNext  int
	callCount atomic.Int32
}

func (f *fakeFactory) new(context.Context) (Sandbox, error) {
	f.callCount.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return nil, errFromFactory
	}
	sb := &fakeSandbox{id: len(f.created)}
	f.created = append(f.created, sb)
	return sb, nil
}

func (f *fakeFactory) forApp(ctx context.Context, _ string) (Sandbox, error) {
	return f.new(ctx)
}

func (f *fakeFactory) sandbox(i int) *fakeSandbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

// requirePanicContains calls fn and verifies it panics with a message
// containing wantSubstr.
func requirePanicContains(t *testing.T, fn func(), wantSubstr string) {
	t.Helper()

	var recovered string
	func() {
		defer func() {
			if r := recover(); r != nil {
				recovered = fmt.Sprint(r)
			}
		}()
		fn()
	}()

	if recovered == "" {
		t.Fatal("expected panic, got none")
	}

	if !strings.Contains(recovered, wantSubstr) {
		t.Errorf("panic message %q does not contain %q", recovered, wantSubstr)
	}
}

// shortTempDir returns a directory whose paths stay under the unix socket
// length limit.
func shortTempDir(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "fnh")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func validConfig(t *testing.T) ManagerConfig {
	t.Helper()

	dir := shortTempDir(t)
	return ManagerConfig{
		RuntimeDir:           dir + "/run",
		AppsDir:              dir + "/apps",
		AdmissionLimit:       2,
		PoolCapacity:         4,
		InstanceTTL:          time.Minute,
		InstanceStartTimeout: 5 * time.Second,
		InstanceStopTimeout:  5 * time.Second,
		VerifyPollInterval:   10 * time.Millisecond,
		LockTimeout:          time.Second,
		KVCacheSize:          16,
		WorkerCommand: func(WorkerSpec) []string {
			return []string{"sleep", "60"}
		},
	}
}

// newTestManager returns an initialized manager with a fake sandbox factory.
// modify, if non-nil, adjusts the config first.
func newTestManager(t *testing.T, modify func(*ManagerConfig)) (*Manager, *fakeFactory) {
	t.Helper()

	f := &fakeFactory{}
	cfg := validConfig(t)
	cfg.SandboxFactory = f.forApp
	if modify != nil {
		modify(&cfg)
	}

	m := NewManagerWithConfig(cfg)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() {
		if err := m.Shutdown(); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return m, f
}
