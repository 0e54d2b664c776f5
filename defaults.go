package fnhost

import (
	"time"

	"github.com/giantswarm/fnhost/internal/kv"
)

// Default configuration values for NewHost.
// These constants are exported so callers can reference the defaults
// when building custom configurations relative to them (e.g.,
// 2 * DefaultInstanceTTL).
const (
	// DefaultRuntimeDirName is the directory under the system temp directory
	// that holds the lock file, the RPC socket, the KV database and worker
	// logs.
	DefaultRuntimeDirName = "fnhost"

	// DefaultAppsDirName is the directory under the system temp directory
	// that holds one directory per app.
	DefaultAppsDirName = "fnhost-apps"

	// DefaultAdmissionLimit is the number of sandboxes of one Wasm app that
	// may be in use at once.
	DefaultAdmissionLimit = 100

	// DefaultPoolCapacity is the number of idle sandboxes kept per Wasm app.
	DefaultPoolCapacity = 100

	// DefaultInstanceTTL is how long an idle sandbox is kept.
	DefaultInstanceTTL = 60 * time.Second

	// DefaultPurgeInterval is how often expired idle sandboxes are closed.
	DefaultPurgeInterval = 30 * time.Second

	// DefaultInstanceStartTimeout bounds the wait for a worker handshake. JVM
	// workers restoring a checkpoint usually verify within seconds; a cold
	// start can take much longer.
	DefaultInstanceStartTimeout = 2 * time.Minute

	// DefaultInstanceStopTimeout is the time a worker gets between SIGTERM
	// and SIGKILL.
	DefaultInstanceStopTimeout = 10 * time.Second

	// DefaultVerifyPollInterval is how often a starting worker's handshake
	// is checked.
	DefaultVerifyPollInterval = 50 * time.Millisecond

	// DefaultLockTimeout bounds the wait for the runtime directory lock.
	DefaultLockTimeout = 5 * time.Second

	// DefaultKVCacheSize is the number of keys kept in the KV read cache.
	DefaultKVCacheSize = kv.DefaultCacheSize
)
