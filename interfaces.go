package fnhost

import "context"

// Host loads and tracks function instances for one runtime directory.
//
// Callers must follow this lifecycle ordering:
//
//	NewHost → Initialize → LoadInstance/FinishUsing/CallFunc (repeatable) → Shutdown
//
// Shutdown is safe to call at any point, including before Initialize.
type Host interface {
	// Initialize takes the runtime directory lock, writes the checkpoint
	// config into the apps directory, opens the KV store and starts
	// listening for workers. Safe to call multiple times: after a
	// successful initialization, later calls return nil immediately. A
	// failed initialization may be retried.
	Initialize(ctx context.Context) error

	// LoadInstance returns an instance of app:
	//
	//   - AppTypeWasm: an *OwnedInstance for exclusive use. Blocks while the
	//     app's admission limit is reached, until ctx ends.
	//   - AppTypeJar: the app's *SharedInstance, starting the worker and
	//     waiting for its handshake on first use.
	//   - AppTypeNative: a new *NativeInstance.
	//
	// An app keeps the type it was first loaded as until it is dropped;
	// loading it as another type fails with ErrAppTypeMismatch.
	LoadInstance(ctx context.Context, appType AppType, app string) (Instance, error)

	// LoadInstanceSync loads without blocking. Only Native apps qualify;
	// Jar and Wasm apps fail with ErrUnsupportedAppType.
	LoadInstanceSync(appType AppType, app string) (Instance, error)

	// FinishUsing hands an instance back after an invocation. Every
	// *OwnedInstance must be finished exactly once.
	FinishUsing(app string, inst Instance)

	// DropAppInstances closes the app's idle sandboxes or stops its worker
	// and forgets the app.
	DropAppInstances(ctx context.Context, app string) error

	// UpdateApp discards the app's loaded code and instances so the next
	// load uses what is on disk now.
	UpdateApp(ctx context.Context, app string) error

	// CallFunc invokes fn of a Jar app in its worker and returns the result
	// string. src identifies the calling invocation, or is nil. Fails with
	// ErrNotConnected when the app has no verified worker and with
	// ErrCallTimeout after 120 seconds without an answer.
	CallFunc(ctx context.Context, src *TaskID, app, fn, arg string) (string, error)

	// TrackExecution registers a running invocation under key until the
	// returned release function is called.
	TrackExecution(key string, ec *ExecContext) (ExecHandle, func())

	// RunningExecution returns the invocation most recently tracked under
	// key.
	RunningExecution(key string) (*ExecContext, bool)

	// Apps returns the names of the loaded apps, sorted.
	Apps() []string

	// Shutdown stops every worker, closes every sandbox and the KV store and
	// releases the runtime directory. Safe to call more than once.
	Shutdown() error
}
