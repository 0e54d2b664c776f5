package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/fnhost/internal/fileutil"
	"github.com/giantswarm/fnhost/internal/kv"
	"github.com/giantswarm/fnhost/internal/metrics"
	"github.com/giantswarm/fnhost/internal/procproto"
	"github.com/giantswarm/fnhost/internal/procrpc"
	"github.com/giantswarm/fnhost/internal/wasm"
)

// managerState represents the lifecycle state of a Manager.
type managerState uint32

const (
	managerCreated      managerState = iota // NewManagerWithConfig returns in this state
	managerInitializing                     // Initialize in progress
	managerReady                            // loads allowed
	managerShuttingDown                     // Shutdown called
)

// lockRetryInterval is the pause between attempts to take the runtime
// directory lock.
const lockRetryInterval = 50 * time.Millisecond

var _ procrpc.Verifier = (*Manager)(nil)

// Manager owns the per-app instance caches of one host. It is safe for
// concurrent use.
//
// Synchronization:
//   - state is an atomic managerState (created → initializing → ready →
//     shuttingDown). Every operation checks it with a single load.
//   - mu guards the app registry. Entries are created on first use and
//     removed when the app is dropped.
//   - starts collapses concurrent loads of one shared app into one worker
//     start.
//   - lock and kv are written by Initialize before the state becomes ready
//     and by Shutdown after it leaves ready; initMu serializes both.
//   - rpc is also read by CallFunc and app teardown without initMu, so it is
//     an atomic pointer loaded once per use. It is nil outside ready.
type Manager struct {
	cfg     ManagerConfig
	metrics *metrics.Metrics
	factory SandboxFactory
	// forget drops cached app code before a redeploy. Nil when the sandbox
	// factory is supplied by the caller.
	forget func(app string)

	state  atomic.Uint32
	initMu sync.Mutex

	mu   sync.Mutex
	apps map[string]EachAppCache

	starts  singleflight.Group
	execs   *execArena
	janitor *janitor

	lock *flock.Flock
	kv   *kv.Store
	rpc  atomic.Pointer[procrpc.Server]
}

func (m *Manager) loadState() managerState {
	return managerState(m.state.Load())
}

// NewManagerWithConfig creates a Manager. It performs no I/O; call
// Initialize before loading instances.
//
// Panics if cfg.Validate reports an error. Collectors are registered with
// cfg.MetricsRegisterer here, so a registerer serves one manager.
func NewManagerWithConfig(cfg ManagerConfig) *Manager {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("fnhost: invalid manager config: %v", err))
	}

	m := &Manager{
		cfg:     cfg,
		metrics: metrics.New(cfg.MetricsRegisterer),
		factory: cfg.SandboxFactory,
		apps:    make(map[string]EachAppCache),
		execs:   newExecArena(),
	}

	if m.factory == nil {
		loader := wasm.NewLoader(cfg.AppsDir, Logger())
		m.factory = func(ctx context.Context, app string) (Sandbox, error) {
			sb, err := loader.NewSandbox(ctx, app)
			if err != nil {
				return nil, err
			}
			return sb, nil
		}
		m.forget = loader.Forget
	}
	return m
}

// Initialize takes the runtime directory lock, writes the checkpoint config,
// opens the KV store and starts the RPC server. A successful Initialize makes
// later calls no-ops; a failed one may be retried.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	switch m.loadState() {
	case managerReady:
		return nil
	case managerShuttingDown:
		return ErrShuttingDown
	case managerCreated, managerInitializing:
	}
	m.state.Store(uint32(managerInitializing))

	if err := m.doInitialize(ctx); err != nil {
		m.teardown()
		m.state.CompareAndSwap(uint32(managerInitializing), uint32(managerCreated))
		return fmt.Errorf("initialize: %w", err)
	}

	if !m.state.CompareAndSwap(uint32(managerInitializing), uint32(managerReady)) {
		// Shutdown ran meanwhile and tears down once it gets initMu.
		return ErrShuttingDown
	}
	m.startJanitor()
	Logger().Info("host initialized", "runtime_dir", m.cfg.RuntimeDir, "socket", m.cfg.socketPath())
	return nil
}

func (m *Manager) doInitialize(ctx context.Context) error {
	if err := fileutil.EnsureDir(m.cfg.RuntimeDir); err != nil {
		return fmt.Errorf("init runtime dir: %w", err)
	}
	if err := fileutil.EnsureDir(m.cfg.AppsDir); err != nil {
		return fmt.Errorf("init apps dir: %w", err)
	}

	fl, err := acquireLock(ctx, m.cfg.lockPath(), m.cfg.LockTimeout)
	if err != nil {
		return err
	}
	m.lock = fl

	if err := writeCracConfig(m.cfg.cracConfigPath()); err != nil {
		return err
	}

	store, err := kv.Open(ctx, kv.Config{
		Path:      m.cfg.kvPath(),
		CacheSize: m.cfg.KVCacheSize,
		Logger:    Logger(),
	})
	if err != nil {
		return err
	}
	m.kv = store

	srv, err := procrpc.Listen(procrpc.ServerConfig{
		SocketPath: m.cfg.socketPath(),
		Verifier:   m,
		KV:         store,
		Metrics:    m.metrics,
		Logger:     Logger(),
	})
	if err != nil {
		return err
	}
	m.rpc.Store(srv)
	return nil
}

// acquireLock takes an exclusive lock on path, giving up after timeout.
func acquireLock(ctx context.Context, path string, timeout time.Duration) (*flock.Flock, error) {
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fl := flock.New(path)
	locked, err := fl.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrRuntimeDirLocked, path)
		}
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrRuntimeDirLocked, path)
	}
	return fl, nil
}

// teardown releases what doInitialize acquired. Caller holds initMu.
func (m *Manager) teardown() error {
	var errs []error
	if srv := m.rpc.Swap(nil); srv != nil {
		errs = append(errs, srv.Close())
	}
	if m.kv != nil {
		errs = append(errs, m.kv.Close())
		m.kv = nil
	}
	if m.lock != nil {
		// The lock file stays on disk; removing it could break a lock
		// another host takes concurrently.
		errs = append(errs, m.lock.Close())
		m.lock = nil
	}
	return errors.Join(errs...)
}

func (m *Manager) checkReady() error {
	switch m.loadState() {
	case managerReady:
		return nil
	case managerShuttingDown:
		return ErrShuttingDown
	default:
		return ErrNotInitialized
	}
}

// LoadInstance returns an instance of app:
//   - Wasm: an exclusive instance from the app's pool, waiting for a free
//     slot while the admission limit is reached.
//   - Jar: the app's shared instance, starting and verifying its worker on
//     first use.
//   - Native: a fresh NativeInstance.
func (m *Manager) LoadInstance(ctx context.Context, appType AppType, app string) (Instance, error) {
	if err := m.checkReady(); err != nil {
		return nil, err
	}
	if app == "" {
		return nil, errors.New("app name must not be empty")
	}

	switch appType {
	case AppTypeWasm:
		inst, err := m.loadOwned(ctx, app)
		if err != nil {
			return nil, err
		}
		return inst, nil
	case AppTypeJar:
		v, err, _ := m.starts.Do(app, func() (any, error) {
			return m.resolveShared(ctx, app)
		})
		if err != nil {
			return nil, err
		}
		return v.(*SharedInstance), nil
	case AppTypeNative:
		return &NativeInstance{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAppType, appType)
	}
}

// LoadInstanceSync loads an instance without blocking. Only Native apps
// qualify; other types fail with ErrUnsupportedAppType.
func (m *Manager) LoadInstanceSync(appType AppType, app string) (Instance, error) {
	if err := m.checkReady(); err != nil {
		return nil, err
	}
	if appType == AppTypeNative {
		return &NativeInstance{}, nil
	}
	return nil, fmt.Errorf("%w: %s cannot be loaded synchronously", ErrUnsupportedAppType, appType)
}

func (m *Manager) loadOwned(ctx context.Context, app string) (*OwnedInstance, error) {
	c, err := m.ownedEntry(app)
	if err != nil {
		return nil, err
	}
	oc, ok := c.(*ownedAppCache)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrAppTypeMismatch, app, c.appType())
	}
	return oc.pool.Acquire(ctx)
}

// ownedEntry returns the registry entry of app, creating an owned one if
// there is none.
func (m *Manager) ownedEntry(app string) (EachAppCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadState() == managerShuttingDown {
		return nil, ErrShuttingDown
	}
	if c, ok := m.apps[app]; ok {
		return c, nil
	}
	c := &ownedAppCache{pool: m.newPool(app)}
	m.apps[app] = c
	return c, nil
}

func (m *Manager) newPool(app string) *Pool {
	return NewPool(PoolConfig{
		App:      app,
		Limit:    m.cfg.AdmissionLimit,
		Capacity: m.cfg.PoolCapacity,
		TTL:      m.cfg.InstanceTTL,
		Factory: func(ctx context.Context) (Sandbox, error) {
			return m.factory(ctx, app)
		},
		Metrics: m.metrics,
		Clock:   m.cfg.Clock,
		Logger:  Logger(),
	})
}

// FinishUsing hands inst back after an invocation. Owned instances return to
// the app's pool, which is recreated if the app was dropped meanwhile.
// Shared and Native instances need nothing.
func (m *Manager) FinishUsing(app string, inst Instance) {
	switch v := inst.(type) {
	case *OwnedInstance:
		c, err := m.ownedEntry(app)
		if err != nil {
			if closeErr := v.close(); closeErr != nil {
				Logger().Warn("closing instance after shutdown", "app", app, "error", closeErr)
			}
			return
		}
		oc, ok := c.(*ownedAppCache)
		if !ok {
			Logger().Warn("owned instance finished for non-owned app; closing it", "app", app)
			if closeErr := v.close(); closeErr != nil {
				Logger().Warn("closing instance", "app", app, "error", closeErr)
			}
			return
		}
		oc.pool.Release(v)
	case *SharedInstance:
		// The worker outlives invocations.
	case *NativeInstance:
	case nil:
	}
}

// DropAppInstances removes the cache of app. Owned sandboxes are closed;
// a shared worker is terminated and its connection closed.
func (m *Manager) DropAppInstances(ctx context.Context, app string) error {
	m.mu.Lock()
	c := m.apps[app]
	delete(m.apps, app)
	m.mu.Unlock()

	if c == nil {
		return nil
	}
	m.metrics.ForgetApp(app)
	Logger().Info("dropping app instances", "app", app, "type", c.appType())
	return m.closeEntry(ctx, app, c)
}

// UpdateApp discards everything loaded for app so the next load runs the new
// code.
func (m *Manager) UpdateApp(ctx context.Context, app string) error {
	if m.forget != nil {
		m.forget(app)
	}
	return m.DropAppInstances(ctx, app)
}

func (m *Manager) closeEntry(ctx context.Context, app string, c EachAppCache) error {
	switch c := c.(type) {
	case *ownedAppCache:
		if err := c.pool.Close(); err != nil {
			return fmt.Errorf("close pool %s: %w", app, err)
		}
		return nil
	case *sharedAppCache:
		return m.stopShared(ctx, c.inst)
	case nil:
		return nil
	default:
		panic("fnhost: unknown app cache type")
	}
}

// VerifyAppStarted accepts the handshake of a shared worker. It fails with
// ErrAppNotLoaded when app has no cache, ErrNotShared when the cache is not
// shared and ErrAlreadyVerified on any handshake after the first.
func (m *Manager) VerifyAppStarted(rec *procproto.AppStarted) error {
	m.mu.Lock()
	c := m.apps[rec.AppID]
	m.mu.Unlock()

	if err := verifyEntry(c, rec); err != nil {
		return fmt.Errorf("verify %s: %w", rec.AppID, err)
	}
	Logger().Info("worker verified", "app", rec.AppID)
	return nil
}

// CallFunc runs fn of a shared app in its worker. src identifies the calling
// invocation, if any.
func (m *Manager) CallFunc(ctx context.Context, src *procproto.FnTaskID, app, fn, arg string) (*procproto.FuncCallResp, error) {
	if err := m.checkReady(); err != nil {
		return nil, err
	}
	srv := m.rpc.Load()
	if srv == nil {
		return nil, ErrShuttingDown
	}
	resp, err := srv.CallFunc(ctx, src, app, fn, arg)
	if errors.Is(err, procrpc.ErrServerClosed) {
		return nil, fmt.Errorf("%w: %w", ErrShuttingDown, err)
	}
	return resp, err
}

// TrackExecution registers ec under the instance key for the duration of an
// invocation. The invocation must call release before discarding ec.
func (m *Manager) TrackExecution(key string, ec *ExecContext) (ExecHandle, func()) {
	h := m.execs.insert(key, ec)
	return h, func() { m.execs.remove(h) }
}

// RunningExecution returns the most recently tracked invocation under key.
func (m *Manager) RunningExecution(key string) (*ExecContext, bool) {
	return m.execs.lookup(key)
}

// Execution returns the invocation addressed by h.
func (m *Manager) Execution(h ExecHandle) (*ExecContext, bool) {
	return m.execs.get(h)
}

// Apps returns the names of the apps with a cache, sorted.
func (m *Manager) Apps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.apps))
	for name := range m.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metrics returns the host collectors.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// SocketPath returns the RPC socket workers connect to.
func (m *Manager) SocketPath() string {
	return m.cfg.socketPath()
}

// IsShuttingDown reports whether Shutdown has been called.
func (m *Manager) IsShuttingDown() bool {
	return m.loadState() == managerShuttingDown
}

// Shutdown stops the RPC server, terminates every shared worker, closes every
// pool and the KV store and releases the runtime directory lock. It is safe
// to call more than once and before Initialize; only the first call does
// work.
func (m *Manager) Shutdown() error {
	if managerState(m.state.Swap(uint32(managerShuttingDown))) == managerShuttingDown {
		return nil
	}

	m.initMu.Lock()
	defer m.initMu.Unlock()

	m.stopJanitor()

	// The server stays published until teardown; calls racing this point
	// see it closed and fail with ErrServerClosed.
	var errs []error
	if srv := m.rpc.Load(); srv != nil {
		errs = append(errs, srv.Close())
	}

	m.mu.Lock()
	entries := m.apps
	m.apps = make(map[string]EachAppCache)
	m.mu.Unlock()

	// Entries are independent; stop them in parallel so the worst case is one
	// stop timeout rather than one per app.
	var g errgroup.Group
	closeErrs := make([]error, 0, len(entries))
	var errMu sync.Mutex
	for app, c := range entries {
		g.Go(func() error {
			if err := m.closeEntry(context.Background(), app, c); err != nil {
				errMu.Lock()
				closeErrs = append(closeErrs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	errs = append(errs, closeErrs...)

	errs = append(errs, m.teardown())

	Logger().Info("host shut down", "apps", len(entries))
	return errors.Join(errs...)
}
