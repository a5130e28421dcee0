package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector groups the counters the ledger and the status machine report to.
type Collector struct {
	Decrements  *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	TxDuration  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Decrements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_decrements_total",
			Help: "Conditional stock decrements by outcome (applied|insufficient|missing).",
		}, []string{"outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order status transitions by source, target and outcome.",
		}, []string{"from", "to", "outcome"}),
		TxDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tx_duration_seconds",
			Help:    "Duration of transactional service operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(c.Decrements, c.Transitions, c.TxDuration)
	}
	return c
}

// Nop returns an unregistered collector, handy for tests and tools.
func Nop() *Collector { return New(nil) }

func (c *Collector) Decrement(outcome string) {
	if c == nil {
		return
	}
	c.Decrements.WithLabelValues(outcome).Inc()
}

func (c *Collector) Transition(from, to, outcome string) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(from, to, outcome).Inc()
}

func (c *Collector) ObserveTx(op string, seconds float64) {
	if c == nil {
		return
	}
	c.TxDuration.WithLabelValues(op).Observe(seconds)
}
