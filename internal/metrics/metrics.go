package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/giantswarm/fnhost/internal/procproto"
)

const namespace = "fnhost"

// Frame directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Call outcomes recorded by ObserveCall.
const (
	OutcomeOK      = "ok"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Metrics holds the host collectors.
type Metrics struct {
	// Pool metrics
	PoolInUse  *prometheus.GaugeVec
	PoolCached *prometheus.GaugeVec
	GateWaits  *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	Evictions   *prometheus.CounterVec

	// Shared process metrics
	SharedProcesses prometheus.Gauge

	// RPC metrics
	Frames       *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	KvRequests   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg yields
// working collectors that are not exported anywhere.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		PoolInUse: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_in_use",
				Help:      "Number of owned instances currently acquired",
			},
			[]string{"app"},
		),
		PoolCached: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_cached",
				Help:      "Number of idle owned instances held in the pool",
			},
			[]string{"app"},
		),
		GateWaits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_gate_waits_total",
				Help:      "Number of acquisitions that had to wait for a free slot",
			},
			[]string{"app"},
		),

		CacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_cache_hits_total",
				Help:      "Acquisitions served by a cached instance",
			},
			[]string{"app"},
		),
		CacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_cache_misses_total",
				Help:      "Acquisitions that constructed a new instance",
			},
			[]string{"app"},
		),
		Evictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_evictions_total",
				Help:      "Cached instances reclaimed by the pool",
			},
			[]string{"app", "reason"},
		),

		SharedProcesses: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "shared_processes",
				Help:      "Number of running shared worker processes",
			},
		),

		Frames: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_frames_total",
				Help:      "RPC frames by direction and message",
			},
			[]string{"direction", "msg"},
		),
		CallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_call_duration_seconds",
				Help:      "Function call round trip duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 120},
			},
			[]string{"app", "outcome"},
		),
		KvRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_kv_requests_total",
				Help:      "Key-value requests received from worker processes",
			},
			[]string{"outcome"},
		),
	}
}

// Frame counts one frame with the given direction.
func (m *Metrics) Frame(direction string, id procproto.MsgID) {
	m.Frames.WithLabelValues(direction, id.String()).Inc()
}

// ObserveCall records the duration of a function call started at start.
func (m *Metrics) ObserveCall(app, outcome string, start time.Time) {
	m.CallDuration.WithLabelValues(app, outcome).Observe(time.Since(start).Seconds())
}

// ForgetApp removes every per-app series for app.
func (m *Metrics) ForgetApp(app string) {
	labels := prometheus.Labels{"app": app}
	m.PoolInUse.DeletePartialMatch(labels)
	m.PoolCached.DeletePartialMatch(labels)
	m.GateWaits.DeletePartialMatch(labels)
	m.CacheHits.DeletePartialMatch(labels)
	m.CacheMisses.DeletePartialMatch(labels)
	m.Evictions.DeletePartialMatch(labels)
}
