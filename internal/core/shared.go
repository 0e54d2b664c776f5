package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/fnhost/internal/process"
)

// Environment passed to every shared worker.
const (
	EnvAppID     = "FNHOST_APP_ID"
	EnvAgentSock = "FNHOST_AGENT_SOCK"
)

// resolveShared returns the shared instance of app, starting its worker if
// the app has no registry entry yet. Callers serialize per app through
// Manager.starts.
func (m *Manager) resolveShared(ctx context.Context, app string) (*SharedInstance, error) {
	m.mu.Lock()
	if m.loadState() == managerShuttingDown {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	switch c := m.apps[app].(type) {
	case *sharedAppCache:
		m.mu.Unlock()
		return c.inst, nil
	case *ownedAppCache:
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrAppTypeMismatch, app, c.appType())
	case nil:
	}

	// The entry goes in before the worker starts: its handshake looks it up.
	entry := &sharedAppCache{inst: &SharedInstance{app: app}}
	m.apps[app] = entry
	m.mu.Unlock()

	if err := m.startShared(ctx, entry.inst); err != nil {
		m.mu.Lock()
		if m.apps[app] == EachAppCache(entry) {
			delete(m.apps, app)
		}
		m.mu.Unlock()

		if stopErr := m.stopShared(ctx, entry.inst); stopErr != nil {
			Logger().Warn("stopping failed worker", "app", app, "error", stopErr)
		}
		return nil, err
	}
	return entry.inst, nil
}

// startShared launches the worker of inst and waits for its handshake.
func (m *Manager) startShared(ctx context.Context, inst *SharedInstance) error {
	spec := WorkerSpec{
		App:        inst.app,
		AppDir:     m.cfg.appDir(inst.app),
		CracConfig: m.cfg.cracConfigPath(),
		SocketPath: m.cfg.socketPath(),
	}

	w, err := process.StartWorker(process.WorkerConfig{
		Name:    inst.app,
		Command: m.cfg.WorkerCommand(spec),
		Env: []string{
			EnvAppID + "=" + inst.app,
			EnvAgentSock + "=" + spec.SocketPath,
		},
		LogDir:      m.cfg.workerLogDir(),
		StopTimeout: m.cfg.InstanceStopTimeout,
		Logger:      Logger(),
	})
	if err != nil {
		return fmt.Errorf("start worker for %s: %w", inst.app, err)
	}
	inst.setWorker(w)
	m.metrics.SharedProcesses.Inc()

	Logger().Info("waiting for worker verification", "app", inst.app, "pid", w.PID())

	err = process.WaitReady(ctx, process.WaitReadyConfig{
		Interval:      m.cfg.VerifyPollInterval,
		Timeout:       m.cfg.InstanceStartTimeout,
		Name:          "worker " + inst.app,
		Logger:        Logger(),
		ProcessExited: w.Exited(),
	}, func(context.Context, int) (bool, error) {
		return inst.Verified() != nil, nil
	})
	switch {
	case errors.Is(err, process.ErrNotReady):
		return fmt.Errorf("%w: %s: %w", ErrVerifyTimeout, inst.app, err)
	case err != nil:
		return fmt.Errorf("start %s: %w", inst.app, err)
	}
	return nil
}

// stopShared terminates the worker of inst and closes its connection. It is
// safe to call more than once.
func (m *Manager) stopShared(ctx context.Context, inst *SharedInstance) error {
	if srv := m.rpc.Load(); srv != nil {
		srv.CloseConn(inst.app)
	}

	w := inst.takeWorker()
	if w == nil {
		return nil
	}
	m.metrics.SharedProcesses.Dec()

	if err := process.StopAndClose(w, m.stopTimeout(ctx)); err != nil {
		return fmt.Errorf("stop worker %s: %w", inst.app, err)
	}
	return nil
}

// stopTimeout is InstanceStopTimeout, shortened to the deadline of ctx.
func (m *Manager) stopTimeout(ctx context.Context) time.Duration {
	timeout := m.cfg.InstanceStopTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 && left < timeout {
			timeout = left
		}
	}
	return timeout
}
