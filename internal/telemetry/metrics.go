package telemetry

import (
	"strings"
	"time"

	"github.com/ggonzalez94/kswap/internal/execution"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is registered on a private registry and flushed to a textfile at
// the end of a run for node_exporter's textfile collector.
type Metrics struct {
	registry       *prometheus.Registry
	swaps          *prometheus.CounterVec
	authorizations *prometheus.CounterVec
	receiptWait    *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		swaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kswap_swaps_total",
				Help: "Swap attempts by chain and outcome",
			},
			[]string{"chain", "outcome"},
		),
		authorizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kswap_authorizations_total",
				Help: "Authorization paths taken by chain",
			},
			[]string{"chain", "path"},
		),
		receiptWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kswap_receipt_wait_seconds",
				Help:    "Time spent waiting for transaction receipts",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
	}
	m.registry.MustRegister(m.swaps, m.authorizations, m.receiptWait)
	return m
}

func (m *Metrics) SwapOutcome(chain, outcome string) {
	m.swaps.WithLabelValues(chain, outcome).Inc()
}

func (m *Metrics) Authorization(chain, path string) {
	m.authorizations.WithLabelValues(chain, path).Inc()
}

func (m *Metrics) ObserveReceiptWait(kind execution.TxKind, d time.Duration) {
	m.receiptWait.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile is a no-op for an empty path.
func (m *Metrics) WriteTextfile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
