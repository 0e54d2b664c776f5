package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/giantswarm/fnhost/internal/fileutil"
	"github.com/giantswarm/fnhost/internal/sentinel"
)

const (
	// ErrEmptyCommand is returned when a worker has no command to run.
	ErrEmptyCommand = sentinel.Error("worker command must not be empty")

	// ErrEmptyLogDir is returned when a worker has no log directory.
	ErrEmptyLogDir = sentinel.Error("worker log directory must not be empty")

	// ErrEmptyName is returned when a worker has no name.
	ErrEmptyName = sentinel.Error("worker name must not be empty")
)

// WorkerConfig describes one worker process.
type WorkerConfig struct {
	// Name identifies the worker in logs and log file names, usually the app.
	Name string
	// Command is the program and its arguments.
	Command []string
	// Env is appended to the host environment.
	Env []string
	// LogDir receives <name>-stdout.log and <name>-stderr.log. It is also
	// the working directory of the process.
	LogDir string
	// StopTimeout bounds the automatic stop in Close. Zero uses
	// DefaultStopTimeout.
	StopTimeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c WorkerConfig) validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, ErrEmptyName)
	}
	if len(c.Command) == 0 || c.Command[0] == "" {
		errs = append(errs, ErrEmptyCommand)
	}
	if c.LogDir == "" {
		errs = append(errs, ErrEmptyLogDir)
	}
	return errors.Join(errs...)
}

// Worker is a running worker process. It is safe for concurrent use.
type Worker struct {
	name        string
	log         *slog.Logger
	stopTimeout time.Duration

	mu       sync.Mutex
	cmd      *exec.Cmd
	waitDone <-chan error // cmd.Wait result, consumed once by Stop
	exited   chan struct{}
	logFiles LogFiles
	pid      int
}

// StartWorker launches the process described by cfg.
func StartWorker(cfg WorkerConfig) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if err := fileutil.EnsureDir(cfg.LogDir); err != nil {
		return nil, err
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...) //nolint:gosec // command comes from host configuration
	cmd.Dir = cfg.LogDir
	cmd.Env = append(cmd.Environ(), cfg.Env...)
	configureSysProcAttr(cmd)

	logFiles, err := StartCmd(cmd, cfg.LogDir, cfg.Name)
	if err != nil {
		return nil, err
	}

	// cmd.Wait must run exactly once; Stop consumes done and any number of
	// goroutines may select on exited.
	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		done <- cmd.Wait()
		close(exited)
	}()

	w := &Worker{
		name:        cfg.Name,
		log:         log,
		stopTimeout: cfg.StopTimeout,
		cmd:         cmd,
		waitDone:    done,
		exited:      exited,
		logFiles:    logFiles,
		pid:         cmd.Process.Pid,
	}
	log.Debug("worker started", "worker", cfg.Name, "pid", w.pid)
	return w, nil
}

// PID returns the process id the worker was started with.
func (w *Worker) PID() int {
	return w.pid
}

// Exited returns a channel closed when the process exits. It stays valid
// after Stop.
func (w *Worker) Exited() <-chan struct{} {
	return w.exited
}

// Running reports whether the worker was not stopped and its process has not
// exited.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cmd == nil {
		return false
	}
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// LogFiles returns the paths of the captured output.
func (w *Worker) LogFiles() (stdout, stderr string) {
	return w.logFiles.StdoutPath(), w.logFiles.StderrPath()
}

// Stop terminates the process, waiting at most timeout before the final
// drain. Stopping a stopped worker returns nil.
func (w *Worker) Stop(timeout time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cmd == nil {
		return nil
	}
	err := stopWithDone(w.cmd, w.waitDone, timeout, w.name)
	if err != nil {
		w.log.Warn("worker stop failed; process may be orphaned",
			"worker", w.name, "pid", w.pid, "error", err)
	} else {
		w.log.Debug("worker stopped", "worker", w.name, "pid", w.pid)
	}
	w.cmd = nil
	w.waitDone = nil
	return err
}

// Close stops the worker if it is still running and closes its log files.
func (w *Worker) Close() {
	w.mu.Lock()
	running := w.cmd != nil
	w.mu.Unlock()

	if running {
		timeout := w.stopTimeout
		if timeout <= 0 {
			timeout = DefaultStopTimeout
		}
		if err := w.Stop(timeout); err != nil {
			w.log.Warn("auto-stop during Close failed", "worker", w.name, "error", err)
		}
	}

	w.mu.Lock()
	w.logFiles.Close()
	w.mu.Unlock()
}

// Stoppable is implemented by anything with a stop-then-close lifecycle.
type Stoppable interface {
	Stop(timeout time.Duration) error
	Close()
}

var _ Stoppable = (*Worker)(nil)

// StopAndClose stops s and always closes it, returning the Stop error. A nil
// s is ignored.
func StopAndClose(s Stoppable, timeout time.Duration) error {
	if s == nil {
		return nil
	}
	defer s.Close()
	return s.Stop(timeout)
}
