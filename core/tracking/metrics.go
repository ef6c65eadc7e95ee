package tracking

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	positionsRecorded prometheus.Counter
	geofenceEvents    *prometheus.CounterVec
	etaComputed       *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Counter, *prometheus.CounterVec, *prometheus.CounterVec) {
	pos := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "positions_recorded_total",
			Help: "Number of GPS position fixes recorded",
		},
	)
	geo := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geofence_events_total",
			Help: "Number of geofence transition events emitted",
		},
		[]string{"zone", "transition"},
	)
	eta := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eta_computed_total",
			Help: "Number of ETA estimations by confidence level",
		},
		[]string{"confidence"},
	)
	return pos, geo, eta
}

func init() {
	positionsRecorded, geofenceEvents, etaComputed = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers tracking metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{positionsRecorded, geofenceEvents, etaComputed} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
