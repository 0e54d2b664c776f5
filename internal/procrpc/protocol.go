package procrpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/fnhost/internal/metrics"
	"github.com/giantswarm/fnhost/internal/procproto"
)

// maxLoggedBody bounds how much of an undecodable body is logged.
const maxLoggedBody = 20

// HandleRemoteCall serves a request a verified worker sent on its own behalf.
// It reports whether the message id is one the host handles; unknown ids are
// logged and leave the connection open.
func (s *Server) HandleRemoteCall(identity string, id procproto.MsgID, taskID uint32, buf []byte) bool {
	log := s.log.With("app", identity, "msg_id", id, "task_id", taskID)

	switch id {
	case procproto.MsgUpdateCheckpoint:
		var msg procproto.UpdateCheckpoint
		if err := msg.Unmarshal(buf); err != nil {
			log.Warn("invalid UpdateCheckpoint", "error", err)
			return true
		}
		log.Debug("checkpoint update acknowledged")
		return true

	case procproto.MsgKvRequest:
		req := new(procproto.KvRequest)
		if err := req.Unmarshal(buf); err != nil {
			log.Warn("invalid KvRequest", "error", err, "len", len(buf), "head", fmt.Sprintf("%x", buf[:min(len(buf), maxLoggedBody)]))
			s.metrics.KvRequests.WithLabelValues(metrics.OutcomeError).Inc()
			return true
		}
		if s.cfg.KV == nil {
			log.Warn("no kv client configured, dropping request")
			s.metrics.KvRequests.WithLabelValues(metrics.OutcomeError).Inc()
			return true
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveKv(s.ctx, identity, taskID, req)
		}()
		return true

	default:
		log.Warn("unhandled message", "error", fmt.Errorf("%w: %d", ErrUnsupportedMessageID, uint8(id)))
		return false
	}
}

// serveKv runs one key-value request and replies with the same task id.
// Failures are logged and produce no reply.
func (s *Server) serveKv(ctx context.Context, app string, taskID uint32, req *procproto.KvRequest) {
	log := s.log.With("app", app, "task_id", taskID, "src_task", req.FnTaskID())

	resps, err := s.cfg.KV.KvRequests(ctx, req.FnTaskID(), []*procproto.KvRequest{req})
	if err != nil {
		log.Warn("kv request failed", "error", err)
		s.metrics.KvRequests.WithLabelValues(metrics.OutcomeError).Inc()
		return
	}
	if len(resps) != 1 {
		log.Warn("kv client returned unexpected response count", "count", len(resps))
		s.metrics.KvRequests.WithLabelValues(metrics.OutcomeError).Inc()
		return
	}

	if err := s.send(app, resps[0], taskID); err != nil {
		log.Warn("sending kv response failed", "error", err)
		s.metrics.KvRequests.WithLabelValues(metrics.OutcomeError).Inc()
		return
	}
	s.metrics.KvRequests.WithLabelValues(metrics.OutcomeOK).Inc()
}

// CallFunc invokes fn in the worker process of app and waits up to
// procproto.FuncCallTimeout for its result. The remote invocation is not
// cancelled when the wait gives up.
func (s *Server) CallFunc(ctx context.Context, src *procproto.FnTaskID, app, fn, arg string) (*procproto.FuncCallResp, error) {
	return s.callFunc(ctx, src, app, fn, arg, procproto.FuncCallTimeout)
}

func (s *Server) callFunc(ctx context.Context, src *procproto.FnTaskID, app, fn, arg string, timeout time.Duration) (*procproto.FuncCallResp, error) {
	start := time.Now()
	req := &procproto.FuncCallReq{SrcTaskID: src, Func: fn, ArgStr: arg}

	f, err := s.Call(ctx, app, req, timeout)
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, ErrCallTimeout) {
			outcome = metrics.OutcomeTimeout
		}
		s.metrics.ObserveCall(app, outcome, start)
		return nil, fmt.Errorf("call %s/%s: %w", app, fn, err)
	}

	resp := new(procproto.FuncCallResp)
	if err := resp.Unmarshal(f.Body); err != nil {
		s.metrics.ObserveCall(app, metrics.OutcomeError, start)
		return nil, fmt.Errorf("call %s/%s: %w", app, fn, err)
	}

	s.metrics.ObserveCall(app, metrics.OutcomeOK, start)
	return resp, nil
}
