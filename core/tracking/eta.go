package tracking

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/rt-technologie/freightd/core/model"
)

// Confidence qualifies an ETA estimation.
type Confidence string

const (
	// ConfidenceHigh means a traffic model contributed to the estimate.
	ConfidenceHigh Confidence = "HIGH"
	// ConfidenceLow means the estimate fell back to average speed only.
	ConfidenceLow Confidence = "LOW"
)

// ETA is the result of an estimation.
type ETA struct {
	ArrivalTime     time.Time  `json:"arrival_time"`
	DurationMinutes int        `json:"duration_minutes"`
	DistanceKM      float64    `json:"distance_km"`
	TrafficDelayMin int        `json:"traffic_delay"`
	Confidence      Confidence `json:"confidence"`
}

// TrafficModel provides an additive delay in minutes for a leg. The model is
// opaque to the estimator; ok is false when the model has no answer, which
// downgrades the confidence.
type TrafficModel interface {
	Delay(ctx context.Context, from, to model.Coordinates, at time.Time) (minutes float64, ok bool)
}

// EstimatorConfig defines the speed fallbacks of the estimator.
type EstimatorConfig struct {
	// DefaultSpeedKMH is used when neither a live sample nor history exists.
	DefaultSpeedKMH float64 `json:"default_speed_kmh" yaml:"default_speed_kmh"`
	// SpeedWindow bounds the number of recent live samples kept per mission.
	SpeedWindow int `json:"speed_window" yaml:"speed_window"`
}

// SetDefaults applies sane defaults.
func (c *EstimatorConfig) SetDefaults() {
	if c.DefaultSpeedKMH <= 0 {
		c.DefaultSpeedKMH = 60
	}
	if c.SpeedWindow <= 0 {
		c.SpeedWindow = 20
	}
}

// Estimator computes time-to-arrival from distance and speed observations.
type Estimator struct {
	cfg     EstimatorConfig
	traffic TrafficModel
	now     func() time.Time

	mu      sync.Mutex
	samples map[string][]float64
}

// NewEstimator creates an Estimator. The traffic model may be nil, in which
// case all estimates carry low confidence.
func NewEstimator(cfg EstimatorConfig, traffic TrafficModel) *Estimator {
	cfg.SetDefaults()
	return &Estimator{cfg: cfg, traffic: traffic, now: time.Now, samples: map[string][]float64{}}
}

// SetClock overrides the time source, used by tests.
func (e *Estimator) SetClock(now func() time.Time) { e.now = now }

// Observe feeds a live speed sample into the per-mission rolling window.
func (e *Estimator) Observe(missionID string, speedKMH float64) {
	if speedKMH <= 0 {
		return
	}
	e.mu.Lock()
	s := append(e.samples[missionID], speedKMH)
	if len(s) > e.cfg.SpeedWindow {
		s = s[len(s)-e.cfg.SpeedWindow:]
	}
	e.samples[missionID] = s
	e.mu.Unlock()
}

// averageSpeed returns the rolling mean of observed speeds, or false when no
// sample was recorded yet.
func (e *Estimator) averageSpeed(missionID string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.samples[missionID]
	if len(s) == 0 {
		return 0, false
	}
	return stat.Mean(s, nil), true
}

// Estimate computes the ETA from the current position to the destination.
// A live speed sample wins over the historical average, which wins over the
// configured default.
func (e *Estimator) Estimate(ctx context.Context, missionID string, from, to model.Coordinates, liveSpeedKMH *float64) ETA {
	distanceM := Haversine(from, to)
	speed := e.cfg.DefaultSpeedKMH
	switch {
	case liveSpeedKMH != nil && *liveSpeedKMH > 0:
		speed = *liveSpeedKMH
	default:
		if avg, ok := e.averageSpeed(missionID); ok {
			speed = avg
		}
	}

	distanceKM := distanceM / 1000
	travelMin := distanceKM / speed * 60

	now := e.now()
	delayMin := 0.0
	conf := ConfidenceLow
	if e.traffic != nil {
		if d, ok := e.traffic.Delay(ctx, from, to, now); ok {
			delayMin = d
			conf = ConfidenceHigh
		}
	}

	total := travelMin + delayMin
	eta := ETA{
		ArrivalTime:     now.Add(time.Duration(total * float64(time.Minute))),
		DurationMinutes: int(math.Round(total)),
		DistanceKM:      math.Round(distanceKM*10) / 10,
		TrafficDelayMin: int(math.Round(delayMin)),
		Confidence:      conf,
	}
	etaComputed.WithLabelValues(string(conf)).Inc()
	return eta
}

// StaticTrafficModel derives delays from a fixed hour-of-day table scaled by
// leg distance. It stands in for a live traffic provider.
type StaticTrafficModel struct {
	// HourlyDelayMinPer100KM maps the local hour (0-23) to an additive
	// delay in minutes per 100 km.
	HourlyDelayMinPer100KM map[int]float64 `yaml:"hourly_delay_min_per_100km"`
}

// Delay implements TrafficModel.
func (m *StaticTrafficModel) Delay(ctx context.Context, from, to model.Coordinates, at time.Time) (float64, bool) {
	if len(m.HourlyDelayMinPer100KM) == 0 {
		return 0, false
	}
	per100, ok := m.HourlyDelayMinPer100KM[at.Hour()]
	if !ok {
		return 0, false
	}
	distanceKM := Haversine(from, to) / 1000
	return per100 * distanceKM / 100, true
}

// LoadTrafficModel reads a StaticTrafficModel from a YAML file.
func LoadTrafficModel(path string) (*StaticTrafficModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return DecodeTrafficModel(f)
}

// DecodeTrafficModel reads from r to decode a StaticTrafficModel.
func DecodeTrafficModel(r io.Reader) (*StaticTrafficModel, error) {
	var m StaticTrafficModel
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode traffic model: %w", err)
	}
	return &m, nil
}
