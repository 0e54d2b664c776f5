package procproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/giantswarm/fnhost/internal/sentinel"
)

var (
	_ Message = (*AppStarted)(nil)
	_ Message = (*FuncCallReq)(nil)
	_ Message = (*FuncCallResp)(nil)
	_ Message = (*UpdateCheckpoint)(nil)
	_ Message = (*KvRequest)(nil)
	_ Message = (*KvResponse)(nil)
)

// AppStarted is the verification payload a worker process sends as its first
// message after connecting.
type AppStarted struct {
	AppID string
	// HTTPPort is set when the process serves HTTP-triggered functions.
	HTTPPort *uint32
}

// MsgID implements Message.
func (*AppStarted) MsgID() MsgID { return MsgAppStarted }

// Marshal implements Message.
func (m *AppStarted) Marshal() []byte {
	b := appendString(nil, 1, m.AppID)
	if m.HTTPPort != nil {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*m.HTTPPort))
	}
	return b
}

// Unmarshal decodes b into m. An empty app id is a decode error.
func (m *AppStarted) Unmarshal(b []byte) error {
	*m = AppStarted{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(num, typ, b)
			m.AppID = v
			return n, err
		case 2:
			v, n, err := consumeUint32(num, typ, b)
			if err == nil {
				m.HTTPPort = &v
			}
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return err
	}
	if m.AppID == "" {
		return fmt.Errorf("%w: AppStarted without app id", ErrDecode)
	}
	return nil
}

// FnTaskID identifies one function invocation across the cluster.
type FnTaskID struct {
	CallNodeID uint32
	TaskID     uint32
}

// String returns "node/task".
func (t FnTaskID) String() string {
	return fmt.Sprintf("%d/%d", t.CallNodeID, t.TaskID)
}

func (t FnTaskID) marshal() []byte {
	b := appendUint(nil, 1, uint64(t.CallNodeID))
	return appendUint(b, 2, uint64(t.TaskID))
}

func (t *FnTaskID) unmarshal(b []byte) error {
	*t = FnTaskID{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint32(num, typ, b)
			t.CallNodeID = v
			return n, err
		case 2:
			v, n, err := consumeUint32(num, typ, b)
			t.TaskID = v
			return n, err
		}
		return 0, nil
	})
}

// FuncCallReq asks a worker process to run one function.
type FuncCallReq struct {
	SrcTaskID *FnTaskID
	Func      string
	ArgStr    string
}

// MsgID implements Message.
func (*FuncCallReq) MsgID() MsgID { return MsgFuncCallReq }

// Marshal implements Message.
func (m *FuncCallReq) Marshal() []byte {
	var b []byte
	if m.SrcTaskID != nil {
		b = appendMessage(b, 1, m.SrcTaskID.marshal())
	}
	b = appendString(b, 2, m.Func)
	return appendString(b, 3, m.ArgStr)
}

// Unmarshal decodes b into m.
func (m *FuncCallReq) Unmarshal(b []byte) error {
	*m = FuncCallReq{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			body, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			var id FnTaskID
			if err := id.unmarshal(body); err != nil {
				return 0, err
			}
			m.SrcTaskID = &id
			return n, nil
		case 2:
			v, n, err := consumeString(num, typ, b)
			m.Func = v
			return n, err
		case 3:
			v, n, err := consumeString(num, typ, b)
			m.ArgStr = v
			return n, err
		}
		return 0, nil
	})
}

// FuncCallResp carries a function result back to the host.
type FuncCallResp struct {
	RetStr string
}

// MsgID implements Message.
func (*FuncCallResp) MsgID() MsgID { return MsgFuncCallResp }

// Marshal implements Message.
func (m *FuncCallResp) Marshal() []byte {
	return appendString(nil, 1, m.RetStr)
}

// Unmarshal decodes b into m.
func (m *FuncCallResp) Unmarshal(b []byte) error {
	*m = FuncCallResp{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeString(num, typ, b)
			m.RetStr = v
			return n, err
		}
		return 0, nil
	})
}

// UpdateCheckpoint is sent by a worker that wants a checkpoint taken. It has
// no fields yet.
type UpdateCheckpoint struct{}

// MsgID implements Message.
func (*UpdateCheckpoint) MsgID() MsgID { return MsgUpdateCheckpoint }

// Marshal implements Message.
func (*UpdateCheckpoint) Marshal() []byte { return nil }

// Unmarshal validates b as an UpdateCheckpoint encoding.
func (m *UpdateCheckpoint) Unmarshal(b []byte) error {
	return walkFields(b, func(protowire.Number, protowire.Type, []byte) (int, error) { return 0, nil })
}

// KvOpKind is the kind of a key-value operation.
type KvOpKind uint8

// Key-value operation kinds.
const (
	KvSet    KvOpKind = 1
	KvGet    KvOpKind = 2
	KvDelete KvOpKind = 3
)

// String returns the operation name.
func (k KvOpKind) String() string {
	switch k {
	case KvSet:
		return "set"
	case KvGet:
		return "get"
	case KvDelete:
		return "delete"
	default:
		return fmt.Sprintf("KvOpKind(%d)", uint8(k))
	}
}

func (k KvOpKind) valid() bool {
	return k == KvSet || k == KvGet || k == KvDelete
}

// KvOp is one key-value operation.
type KvOp struct {
	Kind  KvOpKind
	Key   []byte
	Value []byte // set only
}

func (op KvOp) marshal() []byte {
	b := appendUint(nil, 1, uint64(op.Kind))
	b = appendBytes(b, 2, op.Key)
	return appendBytes(b, 3, op.Value)
}

func (op *KvOp) unmarshal(b []byte) error {
	*op = KvOp{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(num, typ, b)
			op.Kind = KvOpKind(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(num, typ, b)
			op.Key = append([]byte(nil), v...)
			return n, err
		case 3:
			v, n, err := consumeBytes(num, typ, b)
			op.Value = append([]byte(nil), v...)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return err
	}
	if !op.Kind.valid() {
		return fmt.Errorf("%w: unknown kv op kind %d", ErrDecode, op.Kind)
	}
	if len(op.Key) == 0 {
		return fmt.Errorf("%w: kv %s without key", ErrDecode, op.Kind)
	}
	return nil
}

// KvRequest carries one or more key-value operations issued by a function.
type KvRequest struct {
	Ops       []KvOp
	SrcTaskID FnTaskID
}

// MsgID implements Message.
func (*KvRequest) MsgID() MsgID { return MsgKvRequest }

// FnTaskID returns the invocation that issued the request.
func (m *KvRequest) FnTaskID() FnTaskID { return m.SrcTaskID }

// Marshal implements Message.
func (m *KvRequest) Marshal() []byte {
	var b []byte
	for _, op := range m.Ops {
		b = appendMessage(b, 1, op.marshal())
	}
	return appendMessage(b, 2, m.SrcTaskID.marshal())
}

// ErrEmptyKvRequest is wrapped by KvRequest.Unmarshal when no operation is
// present.
const ErrEmptyKvRequest = sentinel.Error("kv request without operations")

// Unmarshal decodes b into m. A request must carry at least one operation.
func (m *KvRequest) Unmarshal(b []byte) error {
	*m = KvRequest{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			body, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			var op KvOp
			if err := op.unmarshal(body); err != nil {
				return 0, err
			}
			m.Ops = append(m.Ops, op)
			return n, nil
		case 2:
			body, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			return n, m.SrcTaskID.unmarshal(body)
		}
		return 0, nil
	})
	if err != nil {
		return err
	}
	if len(m.Ops) == 0 {
		return fmt.Errorf("%w: %w", ErrDecode, ErrEmptyKvRequest)
	}
	return nil
}

// KvOpResult is the outcome of one KvOp.
type KvOpResult struct {
	Kind  KvOpKind
	Key   []byte
	Value []byte
	// Found reports whether the key existed before the operation.
	Found bool
}

func (r KvOpResult) marshal() []byte {
	b := appendUint(nil, 1, uint64(r.Kind))
	b = appendBytes(b, 2, r.Key)
	b = appendBytes(b, 3, r.Value)
	if r.Found {
		b = appendUint(b, 4, 1)
	}
	return b
}

func (r *KvOpResult) unmarshal(b []byte) error {
	*r = KvOpResult{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(num, typ, b)
			r.Kind = KvOpKind(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(num, typ, b)
			r.Key = append([]byte(nil), v...)
			return n, err
		case 3:
			v, n, err := consumeBytes(num, typ, b)
			r.Value = append([]byte(nil), v...)
			return n, err
		case 4:
			v, n, err := consumeVarint(num, typ, b)
			r.Found = v != 0
			return n, err
		}
		return 0, nil
	})
}

// KvResponse answers a KvRequest with one result per operation.
type KvResponse struct {
	Results []KvOpResult
}

// MsgID implements Message.
func (*KvResponse) MsgID() MsgID { return MsgKvResponse }

// Marshal implements Message.
func (m *KvResponse) Marshal() []byte {
	var b []byte
	for _, r := range m.Results {
		b = appendMessage(b, 1, r.marshal())
	}
	return b
}

// Unmarshal decodes b into m.
func (m *KvResponse) Unmarshal(b []byte) error {
	*m = KvResponse{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		body, n, err := consumeBytes(num, typ, b)
		if err != nil {
			return 0, err
		}
		var r KvOpResult
		if err := r.unmarshal(body); err != nil {
			return 0, err
		}
		m.Results = append(m.Results, r)
		return n, nil
	})
}
