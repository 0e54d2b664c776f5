package fnhost

import "time"

// ConfigSnapshot holds a copy of hostConfig fields for test assertions.
// Exported only via export_test.go so that the _test package can verify
// option closures actually mutate the config without accessing internals.
type ConfigSnapshot struct {
	RuntimeDir           string
	AppsDir              string
	AdmissionLimit       int
	PoolCapacity         int
	InstanceTTL          time.Duration
	PurgeInterval        time.Duration
	InstanceStartTimeout time.Duration
	InstanceStopTimeout  time.Duration
	VerifyPollInterval   time.Duration
	LockTimeout          time.Duration
	KVCacheSize          int
	HasWorkerCommand     bool
	HasSandboxFactory    bool
	HasMetrics           bool
}

// ApplyOptionsForTesting creates a default hostConfig, applies the given
// options, and returns a ConfigSnapshot of the result.
func ApplyOptionsForTesting(opts ...HostOption) ConfigSnapshot {
	cfg := defaultHostConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return ConfigSnapshot{
		RuntimeDir:           cfg.RuntimeDir,
		AppsDir:              cfg.AppsDir,
		AdmissionLimit:       cfg.AdmissionLimit,
		PoolCapacity:         cfg.PoolCapacity,
		InstanceTTL:          cfg.InstanceTTL,
		PurgeInterval:        cfg.PurgeInterval,
		InstanceStartTimeout: cfg.InstanceStartTimeout,
		InstanceStopTimeout:  cfg.InstanceStopTimeout,
		VerifyPollInterval:   cfg.VerifyPollInterval,
		LockTimeout:          cfg.LockTimeout,
		KVCacheSize:          cfg.KVCacheSize,
		HasWorkerCommand:     cfg.WorkerCommand != nil,
		HasSandboxFactory:    cfg.SandboxFactory != nil,
		HasMetrics:           cfg.MetricsRegisterer != nil,
	}
}

// WorkerCommandForTesting returns the command line the configured worker
// command builds for spec.
func WorkerCommandForTesting(spec WorkerSpec, opts ...HostOption) []string {
	cfg := defaultHostConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg.WorkerCommand(spec)
}
