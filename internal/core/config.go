package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"
)

// Fixed names inside the runtime and apps directories.
const (
	lockFileName       = "fnhost.lock"
	socketFileName     = "agent.sock"
	kvFileName         = "kv.db"
	cracConfigFileName = "crac_config"
	workerLogDirName   = "logs"
	jarFileName        = "app.jar"
)

// Sandbox is an exclusive execution environment for one owned instance.
type Sandbox interface {
	Call(fn string, args ...any) (any, error)
	Close() error
}

// SandboxFactory creates a sandbox for app.
type SandboxFactory func(ctx context.Context, app string) (Sandbox, error)

// WorkerSpec describes the worker process of a shared app.
type WorkerSpec struct {
	App string
	// AppDir is <apps-dir>/<app>.
	AppDir string
	// CracConfig is the checkpoint resource policy file.
	CracConfig string
	// SocketPath is the RPC socket the worker connects to.
	SocketPath string
}

// WorkerCommandFunc returns the program and arguments for a worker.
type WorkerCommandFunc func(spec WorkerSpec) []string

// DefaultWorkerCommand runs <AppDir>/app.jar on the JVM with the checkpoint
// resource policies applied.
func DefaultWorkerCommand(spec WorkerSpec) []string {
	return []string{
		"java",
		"-Djdk.crac.resource-policies=" + spec.CracConfig,
		"-jar", filepath.Join(spec.AppDir, jarFileName),
	}
}

// ManagerConfig holds configuration for a Manager. All fields are immutable
// after NewManagerWithConfig.
type ManagerConfig struct {
	// RuntimeDir holds the lock file, the RPC socket, the KV database and
	// worker logs.
	RuntimeDir string
	// AppsDir holds one directory per app and the checkpoint config.
	AppsDir string

	// AdmissionLimit bounds the owned instances of one app in use at once.
	AdmissionLimit int
	// PoolCapacity bounds the idle owned instances kept per app.
	PoolCapacity int
	// InstanceTTL is how long an idle owned instance is kept.
	InstanceTTL time.Duration
	// PurgeInterval is how often expired idle instances are swept. Zero
	// leaves expiry to pool accesses.
	PurgeInterval time.Duration

	// InstanceStartTimeout bounds the wait for a shared worker to verify.
	InstanceStartTimeout time.Duration
	// InstanceStopTimeout bounds stopping one shared worker.
	InstanceStopTimeout time.Duration
	// VerifyPollInterval is how often verification is checked while a worker
	// starts.
	VerifyPollInterval time.Duration
	// LockTimeout bounds the wait for the runtime directory lock.
	LockTimeout time.Duration

	// KVCacheSize is the number of keys in the KV read cache.
	KVCacheSize int

	// WorkerCommand builds shared worker command lines.
	WorkerCommand WorkerCommandFunc
	// SandboxFactory creates owned sandboxes. Nil loads Wasm modules from
	// AppsDir.
	SandboxFactory SandboxFactory

	// MetricsRegisterer receives the host collectors. Nil disables export.
	MetricsRegisterer prometheus.Registerer
	// Clock drives instance expiry. Nil uses the real clock.
	Clock clock.PassiveClock
}

// Validate reports every violated invariant.
func (c ManagerConfig) Validate() error {
	var errs []error

	if c.RuntimeDir == "" {
		errs = append(errs, errors.New("runtime directory must not be empty"))
	}
	if c.AppsDir == "" {
		errs = append(errs, errors.New("apps directory must not be empty"))
	}
	if c.AdmissionLimit <= 0 {
		errs = append(errs, fmt.Errorf("admission limit must be greater than 0, got %d", c.AdmissionLimit))
	}
	if c.PoolCapacity <= 0 {
		errs = append(errs, fmt.Errorf("pool capacity must be greater than 0, got %d", c.PoolCapacity))
	}
	if c.InstanceTTL < 0 {
		errs = append(errs, fmt.Errorf("instance TTL must not be negative, got %s", c.InstanceTTL))
	}
	if c.PurgeInterval < 0 {
		errs = append(errs, fmt.Errorf("purge interval must not be negative, got %s", c.PurgeInterval))
	}
	if c.InstanceStartTimeout <= 0 {
		errs = append(errs, fmt.Errorf("instance start timeout must be greater than 0, got %s", c.InstanceStartTimeout))
	}
	if c.InstanceStopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("instance stop timeout must be greater than 0, got %s", c.InstanceStopTimeout))
	}
	if c.VerifyPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("verify poll interval must be greater than 0, got %s", c.VerifyPollInterval))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lock timeout must be greater than 0, got %s", c.LockTimeout))
	}
	if c.KVCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("kv cache size must be greater than 0, got %d", c.KVCacheSize))
	}
	if c.WorkerCommand == nil {
		errs = append(errs, errors.New("worker command must not be nil"))
	}

	return errors.Join(errs...)
}

func (c ManagerConfig) lockPath() string       { return filepath.Join(c.RuntimeDir, lockFileName) }
func (c ManagerConfig) socketPath() string     { return filepath.Join(c.RuntimeDir, socketFileName) }
func (c ManagerConfig) kvPath() string         { return filepath.Join(c.RuntimeDir, kvFileName) }
func (c ManagerConfig) workerLogDir() string   { return filepath.Join(c.RuntimeDir, workerLogDirName) }
func (c ManagerConfig) cracConfigPath() string { return filepath.Join(c.AppsDir, cracConfigFileName) }
func (c ManagerConfig) appDir(app string) string {
	return filepath.Join(c.AppsDir, app)
}
