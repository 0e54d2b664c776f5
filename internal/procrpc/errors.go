package procrpc

import "github.com/giantswarm/fnhost/internal/sentinel"

const (
	// ErrAppNotLoaded is returned by a Verifier when no instance cache exists
	// for the announced app. The server closes the connection.
	ErrAppNotLoaded = sentinel.Error("app is not loaded")

	// ErrNotShared is returned by a Verifier when the app's cache does not
	// front a shared process.
	ErrNotShared = sentinel.Error("app is not served by a shared process")

	// ErrAlreadyVerified is returned by a Verifier when the app's process has
	// been verified before.
	ErrAlreadyVerified = sentinel.Error("app process already verified")

	// ErrUnsupportedMessageID reports a frame the server has no handler for.
	ErrUnsupportedMessageID = sentinel.Error("unsupported message id")

	// ErrCallTimeout is returned when a call gets no response in time.
	ErrCallTimeout = sentinel.Error("call timed out")

	// ErrNotConnected is returned when no verified connection exists for the
	// target app.
	ErrNotConnected = sentinel.Error("app has no verified connection")

	// ErrConnClosed is returned to calls whose connection went away before the
	// response arrived.
	ErrConnClosed = sentinel.Error("connection closed")

	// ErrServerClosed is returned by operations on a closed server.
	ErrServerClosed = sentinel.Error("rpc server closed")

	// ErrShortFrame is returned for frames without a complete header.
	ErrShortFrame = sentinel.Error("frame shorter than header")
)
