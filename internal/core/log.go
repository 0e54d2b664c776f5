package core

import (
	"log/slog"
	"sync/atomic"
)

// logger is the package-level logger. Named "logger" to avoid shadowing the
// stdlib "log" package. Nil means SetLogger was not called.
var logger atomic.Pointer[slog.Logger]

// defaultLogger caches slog.Default() with the fnhost component attribute.
// SetLogger clears it so a later slog.SetDefault is picked up.
var defaultLogger atomic.Pointer[slog.Logger]

// Logger returns the package-level logger. Without SetLogger it returns
// slog.Default() with component=fnhost. It is safe for concurrent use.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l := slog.Default().With("component", "fnhost")
	if defaultLogger.CompareAndSwap(nil, l) {
		return l
	}
	if l2 := defaultLogger.Load(); l2 != nil {
		return l2
	}
	return l
}

// SetLogger replaces the package-level logger. A nil l restores the default.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
	defaultLogger.Store(nil)
}
