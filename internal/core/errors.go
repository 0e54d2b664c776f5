package core

import (
	"github.com/giantswarm/fnhost/internal/procproto"
	"github.com/giantswarm/fnhost/internal/procrpc"
	"github.com/giantswarm/fnhost/internal/sentinel"
)

const (
	// ErrShuttingDown is returned by operations on a manager that is shutting
	// down.
	ErrShuttingDown = sentinel.Error("manager is shutting down")

	// ErrNotInitialized is returned by operations before Initialize.
	ErrNotInitialized = sentinel.Error("manager not initialized")

	// ErrUnsupportedAppType is returned by LoadInstanceSync for app types
	// that cannot be loaded without blocking.
	ErrUnsupportedAppType = sentinel.Error("unsupported app type")

	// ErrCreateConfigFailed is returned by Initialize when the checkpoint
	// resource policy file cannot be written.
	ErrCreateConfigFailed = sentinel.Error("create checkpoint config failed")

	// ErrAppTypeMismatch is returned when an app is loaded as a type other
	// than the one its cache was created for.
	ErrAppTypeMismatch = sentinel.Error("app registered with a different type")

	// ErrPoolClosed is returned by Acquire on a closed pool.
	ErrPoolClosed = sentinel.Error("instance pool closed")

	// ErrVerifyTimeout is returned when a shared worker does not complete
	// its handshake within the start timeout.
	ErrVerifyTimeout = sentinel.Error("worker verification timed out")

	// ErrRuntimeDirLocked is returned by Initialize when another host holds
	// the runtime directory lock.
	ErrRuntimeDirLocked = sentinel.Error("runtime directory locked by another host")
)

// Protocol errors, re-exported so the public API imports only from core.
const (
	ErrDecode               = procproto.ErrDecode
	ErrAppNotLoaded         = procrpc.ErrAppNotLoaded
	ErrNotShared            = procrpc.ErrNotShared
	ErrAlreadyVerified      = procrpc.ErrAlreadyVerified
	ErrUnsupportedMessageID = procrpc.ErrUnsupportedMessageID
	ErrCallTimeout          = procrpc.ErrCallTimeout
	ErrNotConnected         = procrpc.ErrNotConnected
)
