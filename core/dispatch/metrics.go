package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	offersCreated  prometheus.Counter
	offersResolved *prometheus.CounterVec
	escalations    prometheus.Counter
	unfulfilled    prometheus.Counter
	acceptLatency  prometheus.Histogram
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Counter, *prometheus.CounterVec, prometheus.Counter, prometheus.Counter, prometheus.Histogram) {
	created := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_offers_total",
			Help: "Number of dispatch offers created",
		},
	)
	resolved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_offers_resolved_total",
			Help: "Number of dispatch offers resolved by outcome",
		},
		[]string{"outcome"},
	)
	esc := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_escalations_total",
			Help: "Number of missions escalated to broad sourcing",
		},
	)
	unf := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_unfulfilled_total",
			Help: "Number of missions left unfulfilled after escalation",
		},
	)
	lat := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_accept_latency_seconds",
			Help:    "Time between offer creation and carrier acceptance",
			Buckets: prometheus.ExponentialBuckets(60, 2, 12),
		},
	)
	return created, resolved, esc, unf, lat
}

func init() {
	offersCreated, offersResolved, escalations, unfulfilled, acceptLatency = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{offersCreated, offersResolved, escalations, unfulfilled, acceptLatency} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
