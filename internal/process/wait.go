package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/giantswarm/fnhost/internal/sentinel"
)

const (
	// ErrIntervalNotPositive indicates a non-positive poll interval.
	ErrIntervalNotPositive = sentinel.Error("interval must be positive")

	// ErrTimeoutNotPositive indicates a non-positive timeout.
	ErrTimeoutNotPositive = sentinel.Error("timeout must be positive")

	// ErrProcessExited indicates the process exited before the condition
	// held.
	ErrProcessExited = sentinel.Error("process exited before becoming ready")

	// ErrNotReady wraps the poll error when the timeout elapses.
	ErrNotReady = sentinel.Error("not ready before timeout")
)

// Condition reports whether the awaited state was reached. A non-nil error
// aborts the wait. attempt starts at 1.
type Condition func(ctx context.Context, attempt int) (bool, error)

// WaitReadyConfig configures WaitReady.
type WaitReadyConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	// Name is used in errors and logs.
	Name   string
	Logger *slog.Logger
	// ProcessExited aborts the wait with ErrProcessExited when closed.
	ProcessExited <-chan struct{}
}

// WaitReady polls cond until it returns true, returns an error, the process
// exits or the timeout elapses. A timeout is reported as ErrNotReady.
func WaitReady(ctx context.Context, cfg WaitReadyConfig, cond Condition) error {
	if cfg.Name == "" {
		return errors.New("wait ready: name must not be empty")
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("wait for %s: %w", cfg.Name, ErrIntervalNotPositive)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("wait for %s: %w", cfg.Name, ErrTimeoutNotPositive)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	// PollUntilContextTimeout runs the condition sequentially.
	attempt := 0
	err := wait.PollUntilContextTimeout(ctx, cfg.Interval, cfg.Timeout, true,
		func(pollCtx context.Context) (bool, error) {
			if cfg.ProcessExited != nil {
				select {
				case <-cfg.ProcessExited:
					return false, fmt.Errorf("%s: %w", cfg.Name, ErrProcessExited)
				default:
				}
			}

			attempt++
			ok, err := cond(pollCtx, attempt)
			if err != nil {
				return false, err
			}
			if ok {
				log.Debug("wait succeeded", "name", cfg.Name, "attempt", attempt)
			}
			return ok, nil
		})
	if err == nil {
		return nil
	}

	// The parent context ending is the caller's business; our own deadline
	// is reported as ErrNotReady.
	if ctx.Err() == nil && wait.Interrupted(err) {
		return fmt.Errorf("wait for %s: %w after %s (%d attempts)", cfg.Name, ErrNotReady, cfg.Timeout, attempt)
	}
	return fmt.Errorf("wait for %s: %w", cfg.Name, err)
}
