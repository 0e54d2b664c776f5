package fnhost

import "github.com/giantswarm/fnhost/internal/core"

// Sentinel errors for error inspection with errors.Is.
// These are immutable constants safe for use in wrapped error chain comparison.
const (
	// ErrShuttingDown is returned by every operation once Shutdown was
	// called.
	ErrShuttingDown = core.ErrShuttingDown

	// ErrNotInitialized is returned by loads and calls before Initialize.
	ErrNotInitialized = core.ErrNotInitialized

	// ErrUnsupportedAppType is returned by LoadInstanceSync for Jar and Wasm
	// apps and by LoadInstance for unknown app types.
	ErrUnsupportedAppType = core.ErrUnsupportedAppType

	// ErrCreateConfigFailed is returned by Initialize when the checkpoint
	// config file cannot be written.
	ErrCreateConfigFailed = core.ErrCreateConfigFailed

	// ErrAppTypeMismatch is returned when an app is loaded as a different
	// type than it was first loaded as.
	ErrAppTypeMismatch = core.ErrAppTypeMismatch

	// ErrPoolClosed is returned by a load that was waiting for a sandbox when
	// the app was dropped.
	ErrPoolClosed = core.ErrPoolClosed

	// ErrVerifyTimeout is returned by LoadInstance when a worker does not
	// complete its handshake in time.
	ErrVerifyTimeout = core.ErrVerifyTimeout

	// ErrRuntimeDirLocked is returned by Initialize when another host holds
	// the runtime directory.
	ErrRuntimeDirLocked = core.ErrRuntimeDirLocked

	// ErrCallTimeout is returned by CallFunc when the worker does not answer
	// within the fixed call timeout.
	ErrCallTimeout = core.ErrCallTimeout

	// ErrNotConnected is returned by CallFunc when the app has no verified
	// worker connection.
	ErrNotConnected = core.ErrNotConnected

	// ErrAppNotLoaded, ErrNotShared and ErrAlreadyVerified reject a worker
	// handshake. They surface in logs and from VerifyAppStarted.
	ErrAppNotLoaded    = core.ErrAppNotLoaded
	ErrNotShared       = core.ErrNotShared
	ErrAlreadyVerified = core.ErrAlreadyVerified

	// ErrDecode marks a malformed protocol message.
	ErrDecode = core.ErrDecode

	// ErrUnsupportedMessageID marks a protocol message the host does not
	// handle.
	ErrUnsupportedMessageID = core.ErrUnsupportedMessageID
)
