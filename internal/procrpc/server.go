package procrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/fnhost/internal/fileutil"
	"github.com/giantswarm/fnhost/internal/metrics"
	"github.com/giantswarm/fnhost/internal/procproto"
)

// Verifier accepts or rejects the AppStarted record of a new connection.
//
// Returning an error wrapping ErrAppNotLoaded closes the connection. Any other
// error leaves it unverified so the worker may retry.
type Verifier interface {
	VerifyAppStarted(rec *procproto.AppStarted) error
}

// KvClient executes key-value requests on behalf of a function invocation.
// It returns one response per request.
type KvClient interface {
	KvRequests(ctx context.Context, src procproto.FnTaskID, reqs []*procproto.KvRequest) ([]*procproto.KvResponse, error)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// SocketPath is the unix socket the server binds. A stale file at the
	// path is removed first.
	SocketPath string
	Verifier   Verifier
	KV         KvClient

	// Metrics is optional.
	Metrics *metrics.Metrics
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the host endpoint of the worker protocol.
type Server struct {
	cfg     ServerConfig
	log     *slog.Logger
	metrics *metrics.Metrics
	ln      net.Listener

	// ctx scopes background key-value work; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	nextTask atomic.Uint32

	mu       sync.Mutex
	closed   bool
	conns    map[*conn]struct{}
	verified map[string]*conn
	pending  map[uint32]*pendingCall

	wg sync.WaitGroup
}

type pendingCall struct {
	app  string
	want procproto.MsgID
	ch   chan Frame
}

type conn struct {
	id   string
	nc   net.Conn
	f    *framer
	done chan struct{}

	// app is written once by the reader goroutine on verification.
	app atomic.Pointer[string]
}

func (c *conn) appID() (string, bool) {
	p := c.app.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// Listen binds the socket and starts accepting connections.
func Listen(cfg ServerConfig) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, errors.New("socket path must not be empty")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("verifier must not be nil")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(nil)
	}

	if err := fileutil.RemoveIfExists(cfg.SocketPath); err != nil {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	if err := fileutil.EnsureDirForFile(cfg.SocketPath); err != nil {
		return nil, err
	}

	ln, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.SocketPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		log:      log.With("socket", cfg.SocketPath),
		metrics:  m,
		ln:       ln,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[*conn]struct{}),
		verified: make(map[string]*conn),
		pending:  make(map[uint32]*pendingCall),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Debug("rpc server listening")
	return s, nil
}

// Addr returns the socket path.
func (s *Server) Addr() string {
	return s.cfg.SocketPath
}

// Connected reports whether a verified connection exists for app.
func (s *Server) Connected(app string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.verified[app]
	return ok
}

// CloseConn closes the verified connection of app, if any. Calls for app
// fail with ErrNotConnected once CloseConn returns.
func (s *Server) CloseConn(app string) {
	s.mu.Lock()
	c := s.verified[app]
	delete(s.verified, app)
	s.mu.Unlock()

	if c != nil {
		s.log.Debug("closing connection", "app", app, "conn", c.id)
		_ = c.nc.Close()
	}
}

// Close stops accepting, closes every connection and waits for the
// background goroutines. It is safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.cancel()
	err := s.ln.Close()
	for _, c := range conns {
		_ = c.nc.Close()
	}
	s.wg.Wait()

	if rmErr := fileutil.RemoveIfExists(s.cfg.SocketPath); rmErr != nil {
		err = errors.Join(err, rmErr)
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Warn("accept failed", "error", err)
			}
			return
		}

		c := &conn{
			id:   uuid.NewString(),
			nc:   nc,
			f:    newFramer(nc),
			done: make(chan struct{}),
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = nc.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(c)
	}
}

func (s *Server) serveConn(c *conn) {
	defer s.wg.Done()
	defer s.dropConn(c)

	log := s.log.With("conn", c.id)
	log.Debug("worker connected")

	for {
		f, err := c.f.readFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("read failed", "error", err)
			}
			return
		}
		s.metrics.Frame(metrics.DirectionIn, f.ID)

		app, ok := c.appID()
		if !ok {
			if !s.verify(c, f, log) {
				return
			}
			continue
		}

		if procproto.IsResponse(f.ID) && s.deliver(app, f) {
			continue
		}
		s.HandleRemoteCall(app, f.ID, f.TaskID, f.Body)
	}
}

// verify handles a frame from an unverified connection. It returns false when
// the connection must be closed.
func (s *Server) verify(c *conn, f Frame, log *slog.Logger) bool {
	if f.ID != procproto.MsgAppStarted {
		log.Warn("frame before verification", "msg_id", f.ID)
		return true
	}

	var rec procproto.AppStarted
	if err := rec.Unmarshal(f.Body); err != nil {
		log.Warn("invalid AppStarted", "error", err)
		return true
	}

	if err := s.cfg.Verifier.VerifyAppStarted(&rec); err != nil {
		if errors.Is(err, ErrAppNotLoaded) {
			log.Warn("verification failed, closing connection", "app", rec.AppID, "error", err)
			return false
		}
		log.Warn("verification rejected", "app", rec.AppID, "error", err)
		return true
	}

	app := rec.AppID
	c.app.Store(&app)

	s.mu.Lock()
	old := s.verified[app]
	s.verified[app] = c
	s.mu.Unlock()

	if old != nil && old != c {
		_ = old.nc.Close()
	}

	log.Info("worker verified", "app", app)
	return true
}

func (s *Server) dropConn(c *conn) {
	close(c.done)
	_ = c.nc.Close()

	s.mu.Lock()
	delete(s.conns, c)
	if app, ok := c.appID(); ok && s.verified[app] == c {
		delete(s.verified, app)
	}
	s.mu.Unlock()

	s.log.Debug("worker disconnected", "conn", c.id)
}

// deliver hands a response frame to the call waiting for it.
func (s *Server) deliver(app string, f Frame) bool {
	s.mu.Lock()
	p, ok := s.pending[f.TaskID]
	if ok && (p.app != app || p.want != f.ID) {
		ok = false
	}
	if ok {
		delete(s.pending, f.TaskID)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	p.ch <- f
	return true
}

// Call sends msg to the verified connection of app and waits for the paired
// response. The wait ends when ctx is done, when the connection closes or
// when timeout elapses, in which case ErrCallTimeout is returned.
func (s *Server) Call(ctx context.Context, app string, msg procproto.Message, timeout time.Duration) (Frame, error) {
	want, ok := procproto.ResponseID(msg.MsgID())
	if !ok {
		return Frame{}, fmt.Errorf("%w: %s has no response", ErrUnsupportedMessageID, msg.MsgID())
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, ErrServerClosed
	}
	c := s.verified[app]
	if c == nil {
		s.mu.Unlock()
		return Frame{}, fmt.Errorf("%w: %s", ErrNotConnected, app)
	}
	taskID := s.allocTaskIDLocked()
	p := &pendingCall{app: app, want: want, ch: make(chan Frame, 1)}
	s.pending[taskID] = p
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, taskID)
		s.mu.Unlock()
	}()

	if err := c.f.writeFrame(msg.MsgID(), taskID, msg.Marshal()); err != nil {
		return Frame{}, fmt.Errorf("send %s to %s: %w", msg.MsgID(), app, err)
	}
	s.metrics.Frame(metrics.DirectionOut, msg.MsgID())

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-p.ch:
		return f, nil
	case <-timer.C:
		return Frame{}, fmt.Errorf("%w: %s to %s after %s", ErrCallTimeout, msg.MsgID(), app, timeout)
	case <-c.done:
		return Frame{}, fmt.Errorf("%w: %s", ErrConnClosed, app)
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// allocTaskIDLocked returns a task id that is not pending. Zero is skipped.
func (s *Server) allocTaskIDLocked() uint32 {
	for {
		id := s.nextTask.Add(1)
		if id == 0 {
			continue
		}
		if _, busy := s.pending[id]; !busy {
			return id
		}
	}
}

// send writes an unsolicited frame to the verified connection of app.
func (s *Server) send(app string, msg procproto.Message, taskID uint32) error {
	s.mu.Lock()
	c := s.verified[app]
	s.mu.Unlock()

	if c == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, app)
	}
	if err := c.f.writeFrame(msg.MsgID(), taskID, msg.Marshal()); err != nil {
		return err
	}
	s.metrics.Frame(metrics.DirectionOut, msg.MsgID())
	return nil
}
