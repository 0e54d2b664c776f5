package procrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/giantswarm/fnhost/internal/procproto"
)

// Client is the worker end of a connection to a Server.
type Client struct {
	nc net.Conn
	f  *framer
}

// Dial connects to the server socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return &Client{nc: nc, f: newFramer(nc)}, nil
}

// Send writes msg with the given task id.
func (c *Client) Send(msg procproto.Message, taskID uint32) error {
	return c.f.writeFrame(msg.MsgID(), taskID, msg.Marshal())
}

// SendRaw writes a frame with an arbitrary id and body.
func (c *Client) SendRaw(id procproto.MsgID, taskID uint32, body []byte) error {
	return c.f.writeFrame(id, taskID, body)
}

// Recv reads the next frame. The deadline of ctx, if any, bounds the read;
// when it passes, context.DeadlineExceeded is returned.
func (c *Client) Recv(ctx context.Context) (Frame, error) {
	deadline, _ := ctx.Deadline()
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return Frame{}, err
	}

	f, err := c.f.readFrame()
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return Frame{}, context.DeadlineExceeded
	}
	return f, err
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.nc.Close()
}

// Verify sends the AppStarted record for app.
func (c *Client) Verify(app string) error {
	return c.Send(&procproto.AppStarted{AppID: app}, 0)
}

// ServeFuncs answers FuncCallReq frames with handler until the connection
// closes or ctx ends. Other frames are ignored.
func (c *Client) ServeFuncs(ctx context.Context, handler func(fn, arg string) string) error {
	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		f, err := c.f.readFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if f.ID != procproto.MsgFuncCallReq {
			continue
		}

		var req procproto.FuncCallReq
		if err := req.Unmarshal(f.Body); err != nil {
			return err
		}
		resp := &procproto.FuncCallResp{RetStr: handler(req.Func, req.ArgStr)}
		if err := c.Send(resp, f.TaskID); err != nil {
			return err
		}
	}
}
