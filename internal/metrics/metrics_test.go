package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/giantswarm/fnhost/internal/procproto"
)

func TestNewRegisters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := New(reg)

	m.PoolInUse.WithLabelValues("calc").Set(2)
	m.Frame(DirectionIn, procproto.MsgKvRequest)
	m.Frame(DirectionIn, procproto.MsgKvRequest)

	if got := testutil.ToFloat64(m.PoolInUse.WithLabelValues("calc")); got != 2 {
		t.Errorf("pool_in_use = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Frames.WithLabelValues(DirectionIn, "KvRequest")); got != 2 {
		t.Errorf("rpc_frames_total = %v, want 2", got)
	}

	expected := `
# HELP fnhost_pool_in_use Number of owned instances currently acquired
# TYPE fnhost_pool_in_use gauge
fnhost_pool_in_use{app="calc"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "fnhost_pool_in_use"); err != nil {
		t.Error(err)
	}
}

func TestNilRegistererDoesNotPanic(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.SharedProcesses.Inc()

	if got := testutil.ToFloat64(m.SharedProcesses); got != 1 {
		t.Errorf("shared_processes = %v, want 1", got)
	}
}

func TestTwoInstancesOnSeparateRegistries(t *testing.T) {
	t.Parallel()

	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}

func TestForgetApp(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.CacheHits.WithLabelValues("calc").Inc()
	m.CacheHits.WithLabelValues("other").Inc()
	m.Evictions.WithLabelValues("calc", "expired").Inc()

	m.ForgetApp("calc")

	if got := testutil.CollectAndCount(m.CacheHits); got != 1 {
		t.Errorf("CacheHits series = %d, want 1", got)
	}
	if got := testutil.CollectAndCount(m.Evictions); got != 0 {
		t.Errorf("Evictions series = %d, want 0", got)
	}
}
