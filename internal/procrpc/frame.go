package procrpc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/libp2p/go-msgio"

	"github.com/giantswarm/fnhost/internal/procproto"
)

// headerLen is the message id byte plus the big-endian task id.
const headerLen = 1 + 4

// Frame is one decoded protocol frame.
type Frame struct {
	ID     procproto.MsgID
	TaskID uint32
	Body   []byte
}

// framer reads and writes length-prefixed frames on a stream.
type framer struct {
	r msgio.ReadCloser
	w msgio.WriteCloser
}

func newFramer(rw io.ReadWriter) *framer {
	return &framer{
		r: msgio.NewReader(rw),
		w: msgio.NewWriter(rw),
	}
}

func (f *framer) readFrame() (Frame, error) {
	msg, err := f.r.ReadMsg()
	if err != nil {
		return Frame{}, err
	}
	defer f.r.ReleaseMsg(msg)

	if len(msg) < headerLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(msg))
	}

	body := make([]byte, len(msg)-headerLen)
	copy(body, msg[headerLen:])

	return Frame{
		ID:     procproto.MsgID(msg[0]),
		TaskID: binary.BigEndian.Uint32(msg[1:headerLen]),
		Body:   body,
	}, nil
}

// writeFrame is safe for concurrent use; the msgio writer serializes
// messages.
func (f *framer) writeFrame(id procproto.MsgID, taskID uint32, body []byte) error {
	buf := make([]byte, headerLen+len(body))
	buf[0] = byte(id)
	binary.BigEndian.PutUint32(buf[1:headerLen], taskID)
	copy(buf[headerLen:], body)

	return f.w.WriteMsg(buf)
}
