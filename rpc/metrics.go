package rpc

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the Bus's internal gauges and histogram as Prometheus
// collectors. Registration is the caller's responsibility (via Register),
// matching the pattern the rest of the ecosystem uses instead of an
// implicit global registry.
type Metrics struct {
	PendingRequests     prometheus.Gauge
	ActiveSubscriptions prometheus.Gauge
	RequestDuration     prometheus.Histogram
	ResponderFaults     prometheus.Counter
}

// NewMetrics builds a Metrics instance with the given namespace/subsystem
// prefix (e.g. "myapp", "rpc").
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "pending_requests",
			Help:      "Number of requests currently awaiting a reply.",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "active_subscriptions",
			Help:      "Number of distinct (request, response) reply subscriptions currently open.",
		}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Time from Request() call to completion, success or failure.",
			Buckets:   prometheus.DefBuckets,
		}),
		ResponderFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "responder_faults_total",
			Help:      "Number of requests completed with a responder-reported fault.",
		}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.PendingRequests, m.ActiveSubscriptions, m.RequestDuration, m.ResponderFaults} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
