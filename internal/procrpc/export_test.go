package procrpc

import (
	"context"
	"time"

	"github.com/giantswarm/fnhost/internal/procproto"
)

// CallFuncWithTimeout exposes callFunc so tests need not wait the full
// production timeout.
func (s *Server) CallFuncWithTimeout(ctx context.Context, src *procproto.FnTaskID, app, fn, arg string, timeout time.Duration) (*procproto.FuncCallResp, error) {
	return s.callFunc(ctx, src, app, fn, arg, timeout)
}
