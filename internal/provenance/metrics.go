package provenance

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	pathChain     = "chain"
	pathSimulated = "simulated"
)

type Metrics struct {
	writes        *prometheus.CounterVec
	chainFailures *prometheus.CounterVec
	chainLatency  *prometheus.HistogramVec
	breakerOpen   prometheus.Gauge
}

// NewMetrics registers the provenance collectors on reg. A nil registerer
// yields unregistered collectors, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_writes_total",
			Help: "Provenance events written, by operation and path (chain or simulated).",
		}, []string{"op", "path"}),
		chainFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_chain_failures_total",
			Help: "Chain calls that fell back to the local event log, by operation and error kind.",
		}, []string{"op", "kind"}),
		chainLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provenance_chain_call_seconds",
			Help:    "Duration of attempted chain calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"op"}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "provenance_breaker_open",
			Help: "1 while the chain circuit breaker is rejecting calls.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.writes, m.chainFailures, m.chainLatency, m.breakerOpen)
	}
	return m
}

func (m *Metrics) observeWrite(op, path string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(op, path).Inc()
}

func (m *Metrics) observeChainFailure(op string, kind ErrorKind) {
	if m == nil {
		return
	}
	m.chainFailures.WithLabelValues(op, kind.String()).Inc()
}

func (m *Metrics) observeChainLatency(op string, seconds float64) {
	if m == nil {
		return
	}
	m.chainLatency.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) setBreaker(state BreakerState) {
	if m == nil {
		return
	}
	if state == BreakerClosed {
		m.breakerOpen.Set(0)
		return
	}
	m.breakerOpen.Set(1)
}
