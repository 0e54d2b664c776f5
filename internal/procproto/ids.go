package procproto

import (
	"fmt"
	"time"
)

// MsgID identifies a message type on the wire.
type MsgID uint8

// Wire message ids.
const (
	MsgAppStarted       MsgID = 1
	MsgFuncCallReq      MsgID = 2
	MsgFuncCallResp     MsgID = 3
	MsgUpdateCheckpoint MsgID = 4
	MsgKvRequest        MsgID = 5
	MsgKvResponse       MsgID = 6
)

// FuncCallTimeout bounds how long the host waits for a FuncCallResp.
const FuncCallTimeout = 120 * time.Second

// String returns the message name.
func (id MsgID) String() string {
	switch id {
	case MsgAppStarted:
		return "AppStarted"
	case MsgFuncCallReq:
		return "FuncCallReq"
	case MsgFuncCallResp:
		return "FuncCallResp"
	case MsgUpdateCheckpoint:
		return "UpdateCheckpoint"
	case MsgKvRequest:
		return "KvRequest"
	case MsgKvResponse:
		return "KvResponse"
	default:
		return fmt.Sprintf("MsgID(%d)", uint8(id))
	}
}

// ResponseID returns the id of the response paired with a request id.
func ResponseID(req MsgID) (MsgID, bool) {
	switch req {
	case MsgFuncCallReq:
		return MsgFuncCallResp, true
	case MsgKvRequest:
		return MsgKvResponse, true
	default:
		return 0, false
	}
}

// IsResponse reports whether id is the response half of a request/response
// pair.
func IsResponse(id MsgID) bool {
	return id == MsgFuncCallResp || id == MsgKvResponse
}

// Message is implemented by every wire message.
type Message interface {
	MsgID() MsgID
	Marshal() []byte
}
