package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/giantswarm/fnhost/internal/core"
	"github.com/giantswarm/fnhost/internal/procproto"
)

// maxArgBytes bounds the argument string of a function call.
const maxArgBytes = 1 << 20

// Host is the part of the host the endpoints operate on.
type Host interface {
	Apps() []string
	DropAppInstances(ctx context.Context, app string) error
	UpdateApp(ctx context.Context, app string) error
	CallFunc(ctx context.Context, src *procproto.FnTaskID, app, fn, arg string) (string, error)
}

// Config configures a Server.
type Config struct {
	Host Host
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server routes admin requests.
type Server struct {
	host      Host
	gatherer  prometheus.Gatherer
	log       *slog.Logger
	startedAt time.Time
}

// New creates a Server. Panics if cfg.Host is nil.
func New(cfg Config) *Server {
	if cfg.Host == nil {
		panic("fnhost: admin host must not be nil")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		host:      cfg.Host,
		gatherer:  cfg.Gatherer,
		log:       cfg.Logger,
		startedAt: time.Now(),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/apps", func(r chi.Router) {
		r.Get("/", s.handleListApps)
		r.Delete("/{app}", s.handleDropApp)
		r.Post("/{app}/update", s.handleUpdateApp)
		r.Post("/{app}/funcs/{func}", s.handleCallFunc)
	})
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// HealthzResponse is the body of GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Apps          int    `json:"apps"`
}

// AppsResponse is the body of GET /apps.
type AppsResponse struct {
	Apps []string `json:"apps"`
}

// CallResponse is the body of a successful function call.
type CallResponse struct {
	App    string `json:"app"`
	Func   string `json:"func"`
	Result string `json:"result"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Apps:          len(s.host.Apps()),
	})
}

func (s *Server) handleListApps(w http.ResponseWriter, _ *http.Request) {
	apps := s.host.Apps()
	if apps == nil {
		apps = []string{}
	}
	respondJSON(w, http.StatusOK, AppsResponse{Apps: apps})
}

func (s *Server) handleDropApp(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "app")
	if err := s.host.DropAppInstances(r.Context(), app); err != nil {
		s.log.Error("dropping app failed", "app", app, "error", err)
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateApp(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "app")
	if err := s.host.UpdateApp(r.Context(), app); err != nil {
		s.log.Error("updating app failed", "app", app, "error", err)
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCallFunc passes the request body as the argument string.
func (s *Server) handleCallFunc(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "app")
	fn := chi.URLParam(r, "func")

	arg, err := io.ReadAll(io.LimitReader(r.Body, maxArgBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}
	if len(arg) > maxArgBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "argument too large")
		return
	}

	ret, err := s.host.CallFunc(r.Context(), nil, app, fn, string(arg))
	if err != nil {
		s.log.Warn("function call failed", "app", app, "func", fn, "error", err)
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, CallResponse{App: app, Func: fn, Result: ret})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotConnected):
		return http.StatusNotFound
	case errors.Is(err, core.ErrCallTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrShuttingDown), errors.Is(err, core.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
