package fnhost

import (
	"log/slog"

	"github.com/giantswarm/fnhost/internal/core"
)

// SetLogger replaces the package-level logger used by fnhost.
// The provided logger should already have any desired attributes; fnhost
// will not add additional attributes.
//
// If l is nil, the logger resets to the default: slog.Default() with a
// "component" attribute, re-derived on the next use and then cached. Call
// SetLogger(nil) after slog.SetDefault() to pick up changes.
//
// SetLogger is safe to call concurrently with other fnhost operations. For a
// strict happens-before guarantee, call it before creating a Host.
//
// Example:
//
//	fnhost.SetLogger(myLogger.With("component", "fnhost"))
func SetLogger(l *slog.Logger) {
	core.SetLogger(l)
}
