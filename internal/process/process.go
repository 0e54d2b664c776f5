package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// DefaultStopTimeout bounds a worker stop when no timeout is configured.
const DefaultStopTimeout = 10 * time.Second

// termGracePeriod is how long a worker may take to exit after SIGTERM before
// SIGKILL is sent. It is capped at the stop timeout.
const termGracePeriod = 5 * time.Second

// killDrainTimeout bounds the wait for cmd.Wait after SIGKILL.
const killDrainTimeout = 10 * time.Second

// LogFiles holds the stdout and stderr files of a worker.
type LogFiles struct {
	stdout *os.File
	stderr *os.File
	dir    string
	name   string
}

// NewLogFiles creates <dir>/<name>-stdout.log and <dir>/<name>-stderr.log,
// truncating earlier runs.
func NewLogFiles(dir, name string) (LogFiles, error) {
	l := LogFiles{dir: dir, name: name}

	stdout, err := os.Create(l.StdoutPath())
	if err != nil {
		return LogFiles{}, fmt.Errorf("create stdout log: %w", err)
	}
	stderr, err := os.Create(l.StderrPath())
	if err != nil {
		_ = stdout.Close()
		return LogFiles{}, fmt.Errorf("create stderr log: %w", err)
	}
	l.stdout, l.stderr = stdout, stderr
	return l, nil
}

// StdoutPath returns the stdout log path.
func (l *LogFiles) StdoutPath() string {
	return filepath.Join(l.dir, l.name+"-stdout.log")
}

// StderrPath returns the stderr log path.
func (l *LogFiles) StderrPath() string {
	return filepath.Join(l.dir, l.name+"-stderr.log")
}

// Close closes both files. It is safe to call more than once.
func (l *LogFiles) Close() {
	if l.stdout != nil {
		_ = l.stdout.Close()
		l.stdout = nil
	}
	if l.stderr != nil {
		_ = l.stderr.Close()
		l.stderr = nil
	}
}

// StartCmd attaches fresh log files to cmd and starts it. The caller owns the
// returned LogFiles; on failure they are already closed.
func StartCmd(cmd *exec.Cmd, dir, name string) (LogFiles, error) {
	logFiles, err := NewLogFiles(dir, name)
	if err != nil {
		return LogFiles{}, fmt.Errorf("create %s logs: %w", name, err)
	}

	cmd.Stdout = logFiles.stdout
	cmd.Stderr = logFiles.stderr

	if err := cmd.Start(); err != nil {
		logFiles.Close()
		return LogFiles{}, fmt.Errorf("start %s: %w", name, err)
	}
	return logFiles, nil
}

// drainDone waits at most timeout for the cmd.Wait result. ok is false when
// the timeout elapsed first.
func drainDone(done <-chan error, timeout time.Duration) (ok bool, err error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return true, err
	case <-t.C:
		return false, nil
	}
}

// stopWithDone sends SIGTERM, escalates to SIGKILL after the grace period and
// waits for the result of the single cmd.Wait call on done.
//
// Worst case it blocks for timeout plus killDrainTimeout.
func stopWithDone(cmd *exec.Cmd, done <-chan error, timeout time.Duration, name string) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if done == nil {
		return fmt.Errorf("%s: done channel must not be nil", name)
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already exited.
		ok, waitErr := drainDone(done, killDrainTimeout)
		if !ok {
			return fmt.Errorf("%s: timed out draining process after signal failure", name)
		}
		return expectSignalExit(waitErr, name)
	}

	grace := min(termGracePeriod, timeout)
	killTimer := time.AfterFunc(grace, func() {
		_ = cmd.Process.Kill()
	})
	defer killTimer.Stop()

	total := time.NewTimer(timeout)
	defer total.Stop()

	select {
	case err := <-done:
		return expectSignalExit(err, name)
	case <-total.C:
		ok, waitErr := drainDone(done, killDrainTimeout)
		if !ok {
			return fmt.Errorf("%s: timed out waiting for process to exit after SIGKILL", name)
		}
		if err := expectSignalExit(waitErr, name); err != nil {
			return fmt.Errorf("%s stop timeout: %w", name, err)
		}
		return nil
	}
}

// expectSignalExit treats deaths by SIGTERM or SIGKILL as clean stops.
func expectSignalExit(err error, name string) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if sig := status.Signal(); sig == syscall.SIGTERM || sig == syscall.SIGKILL {
				return nil
			}
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}
