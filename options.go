package fnhost

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// requirePositive panics if v <= 0 with a descriptive message.
func requirePositive[T int | time.Duration](name string, v T) {
	if v <= 0 {
		panic(fmt.Sprintf("fnhost: %s must be greater than 0, got %v", name, v))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("fnhost: %s must not be empty", name))
	}
}

// HostOption configures a Host during construction via NewHost.
// Each With* function returns a HostOption that sets a specific field.
//
// The With* functions panic on invalid input (non-positive sizes, empty
// paths, nil functions). Option values are normally constants or flags that
// were already validated, so an invalid value is a programmer error; the
// pattern mirrors [regexp.MustCompile].
type HostOption func(*hostConfig)

// WithRuntimeDir sets the directory holding the lock file, the RPC socket,
// the KV database and worker logs. The socket path must fit the platform's
// unix socket limit (about 100 bytes), so keep the directory short.
//
// Default: filepath.Join(os.TempDir(), DefaultRuntimeDirName).
//
// Panics if dir is empty.
func WithRuntimeDir(dir string) HostOption {
	requireNonEmpty("runtime directory", dir)
	return func(c *hostConfig) {
		c.RuntimeDir = dir
	}
}

// WithAppsDir sets the directory holding one directory per app. A Wasm app
// "img" is loaded from <dir>/img/app.wasm; a Jar app "calc" runs
// <dir>/calc/app.jar.
//
// Default: filepath.Join(os.TempDir(), DefaultAppsDirName).
//
// Panics if dir is empty.
func WithAppsDir(dir string) HostOption {
	requireNonEmpty("apps directory", dir)
	return func(c *hostConfig) {
		c.AppsDir = dir
	}
}

// WithAdmissionLimit sets how many sandboxes of one Wasm app may be in use
// at once. Further loads of the app block until a sandbox is finished.
//
// Default: 100.
//
// Panics if n <= 0.
func WithAdmissionLimit(n int) HostOption {
	requirePositive("admission limit", n)
	return func(c *hostConfig) {
		c.AdmissionLimit = n
	}
}

// WithPoolCapacity sets how many idle sandboxes are kept per Wasm app. When
// full, the least recently finished sandbox is closed.
//
// Default: 100.
//
// Panics if n <= 0.
func WithPoolCapacity(n int) HostOption {
	requirePositive("pool capacity", n)
	return func(c *hostConfig) {
		c.PoolCapacity = n
	}
}

// WithInstanceTTL sets how long an idle sandbox is kept before it is closed.
//
// Default: 60 seconds.
//
// Panics if d <= 0.
func WithInstanceTTL(d time.Duration) HostOption {
	requirePositive("instance TTL", d)
	return func(c *hostConfig) {
		c.InstanceTTL = d
	}
}

// WithPurgeInterval sets how often expired idle sandboxes are closed in the
// background. Zero disables the sweep; expired sandboxes are then closed
// only when their pool is used again.
//
// Default: 30 seconds.
//
// Panics if d < 0.
func WithPurgeInterval(d time.Duration) HostOption {
	if d < 0 {
		panic(fmt.Sprintf("fnhost: purge interval must not be negative, got %v", d))
	}
	return func(c *hostConfig) {
		c.PurgeInterval = d
	}
}

// WithInstanceStartTimeout sets how long LoadInstance waits for a new
// worker's handshake before failing with ErrVerifyTimeout.
//
// Default: 2 minutes.
//
// Panics if d <= 0.
func WithInstanceStartTimeout(d time.Duration) HostOption {
	requirePositive("instance start timeout", d)
	return func(c *hostConfig) {
		c.InstanceStartTimeout = d
	}
}

// WithInstanceStopTimeout sets the time a worker gets to exit after SIGTERM
// before it is killed.
//
// Default: 10 seconds.
//
// Panics if d <= 0.
func WithInstanceStopTimeout(d time.Duration) HostOption {
	requirePositive("instance stop timeout", d)
	return func(c *hostConfig) {
		c.InstanceStopTimeout = d
	}
}

// WithVerifyPollInterval sets how often a starting worker's handshake is
// checked.
//
// Default: 50 milliseconds.
//
// Panics if d <= 0.
func WithVerifyPollInterval(d time.Duration) HostOption {
	requirePositive("verify poll interval", d)
	return func(c *hostConfig) {
		c.VerifyPollInterval = d
	}
}

// WithLockTimeout sets how long Initialize waits for the runtime directory
// lock before failing with ErrRuntimeDirLocked.
//
// Default: 5 seconds.
//
// Panics if d <= 0.
func WithLockTimeout(d time.Duration) HostOption {
	requirePositive("lock timeout", d)
	return func(c *hostConfig) {
		c.LockTimeout = d
	}
}

// WithKVCacheSize sets the number of keys kept in the KV read cache.
//
// Default: 1024.
//
// Panics if n <= 0.
func WithKVCacheSize(n int) HostOption {
	requirePositive("kv cache size", n)
	return func(c *hostConfig) {
		c.KVCacheSize = n
	}
}

// WithProcessCommand sets the function building a worker's command line.
// The default runs <apps-dir>/<app>/app.jar on the JVM with the checkpoint
// resource policies applied.
//
// Panics if fn is nil.
func WithProcessCommand(fn func(WorkerSpec) []string) HostOption {
	if fn == nil {
		panic("fnhost: process command must not be nil")
	}
	return func(c *hostConfig) {
		c.WorkerCommand = fn
	}
}

// WithSandboxFactory replaces the Wasm loader with fn. Every cache miss of
// a Wasm app calls fn.
//
// Panics if fn is nil.
func WithSandboxFactory(fn SandboxFactory) HostOption {
	if fn == nil {
		panic("fnhost: sandbox factory must not be nil")
	}
	return func(c *hostConfig) {
		c.SandboxFactory = fn
	}
}

// WithMetricsRegisterer registers the host collectors with reg. Without it
// the collectors are kept but not registered anywhere.
//
// Panics if reg is nil.
func WithMetricsRegisterer(reg prometheus.Registerer) HostOption {
	if reg == nil {
		panic("fnhost: metrics registerer must not be nil")
	}
	return func(c *hostConfig) {
		c.MetricsRegisterer = reg
	}
}
