package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/giantswarm/fnhost/internal/process"
	"github.com/giantswarm/fnhost/internal/procproto"
)

// Instance is a loaded function instance. It is implemented only by
// *OwnedInstance, *SharedInstance and *NativeInstance; switches over an
// Instance name all three.
type Instance interface {
	instance()
}

var (
	_ Instance = (*OwnedInstance)(nil)
	_ Instance = (*SharedInstance)(nil)
	_ Instance = (*NativeInstance)(nil)
)

// OwnedInstance is an exclusive sandbox borrowed from an app's pool. It must
// be handed back with FinishUsing.
type OwnedInstance struct {
	app     string
	sandbox Sandbox

	// id and pool are rewritten by Pool.Release while no one holds the
	// instance.
	id   uint64
	pool *Pool
}

func (*OwnedInstance) instance() {}

// ID returns the pool key the instance was last stored or created under.
func (o *OwnedInstance) ID() uint64 { return o.id }

// App returns the app the sandbox runs.
func (o *OwnedInstance) App() string { return o.app }

// Sandbox returns the underlying sandbox.
func (o *OwnedInstance) Sandbox() Sandbox { return o.sandbox }

// Call invokes fn in the sandbox.
func (o *OwnedInstance) Call(fn string, args ...any) (any, error) {
	return o.sandbox.Call(fn, args...)
}

func (o *OwnedInstance) close() error {
	if err := o.sandbox.Close(); err != nil {
		return fmt.Errorf("close sandbox %s/%d: %w", o.app, o.id, err)
	}
	return nil
}

// SharedInstance fronts the one worker process of a shared app. Every load of
// the app returns the same SharedInstance.
type SharedInstance struct {
	app string

	// verified is set once, by the first accepted AppStarted.
	verified atomic.Pointer[procproto.AppStarted]

	mu     sync.Mutex
	worker *process.Worker
}

func (*SharedInstance) instance() {}

// App returns the app name.
func (s *SharedInstance) App() string { return s.app }

// Verified returns the accepted verification record, or nil.
func (s *SharedInstance) Verified() *procproto.AppStarted {
	return s.verified.Load()
}

// HTTPPort returns the port announced by the worker, if any.
func (s *SharedInstance) HTTPPort() (uint32, bool) {
	rec := s.verified.Load()
	if rec == nil || rec.HTTPPort == nil {
		return 0, false
	}
	return *rec.HTTPPort, true
}

// verify installs rec. It fails with ErrAlreadyVerified if a record is
// already present, leaving that record in place.
func (s *SharedInstance) verify(rec *procproto.AppStarted) error {
	if !s.verified.CompareAndSwap(nil, rec) {
		return fmt.Errorf("%w: %s", ErrAlreadyVerified, s.app)
	}
	return nil
}

func (s *SharedInstance) setWorker(w *process.Worker) {
	s.mu.Lock()
	s.worker = w
	s.mu.Unlock()
}

// takeWorker detaches the worker so exactly one caller stops it.
func (s *SharedInstance) takeWorker() *process.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.worker
	s.worker = nil
	return w
}

// NativeInstance marks a stateless native app. It holds no resources.
type NativeInstance struct{}

func (*NativeInstance) instance() {}
