package fnhost

import (
	"context"
	"os"
	"path/filepath"

	"github.com/giantswarm/fnhost/internal/core"
)

var _ Host = (*hostWrapper)(nil)

// hostWrapper wraps core.Manager to implement the Host interface.
//
// The core.Manager is stored as a named (unexported) field rather than
// embedded so callers cannot reach internal methods through a type
// assertion.
type hostWrapper struct {
	mgr *core.Manager
}

func (w *hostWrapper) Initialize(ctx context.Context) error {
	return w.mgr.Initialize(ctx)
}

//nolint:ireturn // Instance is a sealed interface over the concrete types.
func (w *hostWrapper) LoadInstance(ctx context.Context, appType AppType, app string) (Instance, error) {
	return w.mgr.LoadInstance(ctx, appType, app)
}

//nolint:ireturn // Instance is a sealed interface over the concrete types.
func (w *hostWrapper) LoadInstanceSync(appType AppType, app string) (Instance, error) {
	return w.mgr.LoadInstanceSync(appType, app)
}

func (w *hostWrapper) FinishUsing(app string, inst Instance) {
	w.mgr.FinishUsing(app, inst)
}

func (w *hostWrapper) DropAppInstances(ctx context.Context, app string) error {
	return w.mgr.DropAppInstances(ctx, app)
}

func (w *hostWrapper) UpdateApp(ctx context.Context, app string) error {
	return w.mgr.UpdateApp(ctx, app)
}

func (w *hostWrapper) CallFunc(ctx context.Context, src *TaskID, app, fn, arg string) (string, error) {
	resp, err := w.mgr.CallFunc(ctx, src, app, fn, arg)
	if err != nil {
		return "", err
	}
	return resp.RetStr, nil
}

func (w *hostWrapper) TrackExecution(key string, ec *ExecContext) (ExecHandle, func()) {
	return w.mgr.TrackExecution(key, ec)
}

func (w *hostWrapper) RunningExecution(key string) (*ExecContext, bool) {
	return w.mgr.RunningExecution(key)
}

func (w *hostWrapper) Apps() []string {
	return w.mgr.Apps()
}

func (w *hostWrapper) Shutdown() error {
	return w.mgr.Shutdown()
}

// defaultHostConfig returns a hostConfig populated with all default values.
// Both NewHost and test helpers use this to avoid duplicating the default
// field assignments.
func defaultHostConfig() hostConfig {
	return hostConfig{core.ManagerConfig{
		RuntimeDir:           filepath.Join(os.TempDir(), DefaultRuntimeDirName),
		AppsDir:              filepath.Join(os.TempDir(), DefaultAppsDirName),
		AdmissionLimit:       DefaultAdmissionLimit,
		PoolCapacity:         DefaultPoolCapacity,
		InstanceTTL:          DefaultInstanceTTL,
		PurgeInterval:        DefaultPurgeInterval,
		InstanceStartTimeout: DefaultInstanceStartTimeout,
		InstanceStopTimeout:  DefaultInstanceStopTimeout,
		VerifyPollInterval:   DefaultVerifyPollInterval,
		LockTimeout:          DefaultLockTimeout,
		KVCacheSize:          DefaultKVCacheSize,
		WorkerCommand:        core.DefaultWorkerCommand,
	}}
}

// NewHost returns a Host configured by opts. It performs no I/O; call
// Initialize before loading instances.
//
// Hosts are independent; two hosts sharing a runtime directory exclude each
// other in Initialize.
//
// Panics if any option receives an invalid value. See individual With*
// functions for constraints.
//
//nolint:ireturn // Returns Host interface by design for testability (mockable).
func NewHost(opts ...HostOption) Host {
	cfg := defaultHostConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &hostWrapper{mgr: core.NewManagerWithConfig(cfg.toCoreConfig())}
}
