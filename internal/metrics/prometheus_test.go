package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.BarsProcessed.Inc()
	prom.Metrics.TickFailures.Inc()
	prom.Metrics.EntriesOpened.Inc()
	prom.Metrics.ExitsClosed.Inc()
	prom.Metrics.OrdersSubmitted.Inc()
	prom.Metrics.OrdersFailed.Inc()
	prom.Metrics.ResidualRepairs.Inc()
	prom.Metrics.FundingSkips.Inc()

	assertCounter(t, prom.barsProcessed, 1)
	assertCounter(t, prom.tickFailures, 1)
	assertCounter(t, prom.entriesOpened, 1)
	assertCounter(t, prom.exitsClosed, 1)
	assertCounter(t, prom.ordersSubmitted, 1)
	assertCounter(t, prom.ordersFailed, 1)
	assertCounter(t, prom.residualRepairs, 1)
	assertCounter(t, prom.fundingSkips, 1)
}

func TestNoopMetricsAreSafe(t *testing.T) {
	m := NewNoop()
	m.BarsProcessed.Inc()
	m.OrdersFailed.Inc()
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
