package sync

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncDelivered *prometheus.CounterVec
	syncRetries   *prometheus.CounterVec
	syncDropped   *prometheus.CounterVec
	queueDepth    prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, prometheus.Gauge) {
	del := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_mutations_delivered_total",
			Help: "Number of offline mutations confirmed by the server",
		},
		[]string{"type"},
	)
	ret := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_mutation_retries_total",
			Help: "Number of offline mutation delivery retries",
		},
		[]string{"type"},
	)
	drp := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_mutations_dropped_total",
			Help: "Number of offline mutations dropped after the retry ceiling",
		},
		[]string{"type"},
	)
	depth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Number of mutations awaiting delivery",
		},
	)
	return del, ret, drp, depth
}

func init() {
	syncDelivered, syncRetries, syncDropped, queueDepth = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers sync metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{syncDelivered, syncRetries, syncDropped, queueDepth} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
