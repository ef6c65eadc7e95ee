package tracking

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rt-technologie/freightd/core/model"
)

// eastOf returns a point roughly km kilometers due east of from.
func eastOf(from model.Coordinates, km float64) model.Coordinates {
	dLon := km * 1000 / (earthRadiusM * math.Cos(from.Latitude*math.Pi/180)) * 180 / math.Pi
	return model.Coordinates{Latitude: from.Latitude, Longitude: from.Longitude + dLon}
}

func TestEstimateDefaultSpeed(t *testing.T) {
	e := NewEstimator(EstimatorConfig{}, nil)
	e.SetClock(func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) })
	to := eastOf(notreDame, 60)

	eta := e.Estimate(context.Background(), "m1", notreDame, to, nil)
	// 60 km at the 60 km/h default is one hour.
	if eta.DurationMinutes < 58 || eta.DurationMinutes > 62 {
		t.Fatalf("expected ~60 min got %d", eta.DurationMinutes)
	}
	if eta.Confidence != ConfidenceLow {
		t.Fatalf("expected LOW without traffic model got %s", eta.Confidence)
	}
	if eta.TrafficDelayMin != 0 {
		t.Fatalf("expected no delay got %d", eta.TrafficDelayMin)
	}
}

func TestEstimateLiveSpeedWins(t *testing.T) {
	e := NewEstimator(EstimatorConfig{}, nil)
	e.Observe("m1", 30)
	e.Observe("m1", 30)
	to := eastOf(notreDame, 60)

	live := 120.0
	eta := e.Estimate(context.Background(), "m1", notreDame, to, &live)
	if eta.DurationMinutes < 28 || eta.DurationMinutes > 32 {
		t.Fatalf("live speed must win, got %d min", eta.DurationMinutes)
	}
}

func TestEstimateRollingAverageFallback(t *testing.T) {
	e := NewEstimator(EstimatorConfig{}, nil)
	e.Observe("m1", 20)
	e.Observe("m1", 40)
	to := eastOf(notreDame, 30)

	// Mean speed 30 km/h over 30 km is one hour.
	eta := e.Estimate(context.Background(), "m1", notreDame, to, nil)
	if eta.DurationMinutes < 58 || eta.DurationMinutes > 62 {
		t.Fatalf("expected ~60 min got %d", eta.DurationMinutes)
	}
}

func TestEstimateIgnoresOtherMissionSamples(t *testing.T) {
	e := NewEstimator(EstimatorConfig{}, nil)
	e.Observe("other", 5)
	to := eastOf(notreDame, 60)

	eta := e.Estimate(context.Background(), "m1", notreDame, to, nil)
	if eta.DurationMinutes > 70 {
		t.Fatalf("foreign samples leaked into m1, got %d min", eta.DurationMinutes)
	}
}

func TestEstimateWithTrafficModel(t *testing.T) {
	tm := &StaticTrafficModel{HourlyDelayMinPer100KM: map[int]float64{8: 20}}
	e := NewEstimator(EstimatorConfig{}, tm)
	e.SetClock(func() time.Time { return time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC) })
	to := eastOf(notreDame, 100)

	eta := e.Estimate(context.Background(), "m1", notreDame, to, nil)
	if eta.Confidence != ConfidenceHigh {
		t.Fatalf("expected HIGH with traffic answer got %s", eta.Confidence)
	}
	if eta.TrafficDelayMin < 19 || eta.TrafficDelayMin > 21 {
		t.Fatalf("expected ~20 min delay got %d", eta.TrafficDelayMin)
	}
	// Outside the table the model has no answer and confidence drops.
	e.SetClock(func() time.Time { return time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC) })
	eta = e.Estimate(context.Background(), "m1", notreDame, to, nil)
	if eta.Confidence != ConfidenceLow {
		t.Fatalf("expected LOW outside table got %s", eta.Confidence)
	}
}

func TestEstimateArrivalTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	e := NewEstimator(EstimatorConfig{}, nil)
	e.SetClock(func() time.Time { return now })
	to := eastOf(notreDame, 60)

	eta := e.Estimate(context.Background(), "m1", notreDame, to, nil)
	want := now.Add(time.Duration(eta.DurationMinutes) * time.Minute)
	if d := eta.ArrivalTime.Sub(want); d < -time.Minute || d > time.Minute {
		t.Fatalf("arrival %v inconsistent with duration %d", eta.ArrivalTime, eta.DurationMinutes)
	}
}

func TestSpeedWindowBounded(t *testing.T) {
	e := NewEstimator(EstimatorConfig{SpeedWindow: 3}, nil)
	for _, s := range []float64{100, 100, 100, 30, 30, 30} {
		e.Observe("m1", s)
	}
	avg, ok := e.averageSpeed("m1")
	if !ok || avg != 30 {
		t.Fatalf("expected window mean 30 got %v %v", avg, ok)
	}
}

func TestDecodeTrafficModel(t *testing.T) {
	src := "hourly_delay_min_per_100km:\n  7: 15\n  8: 25\n"
	tm, err := DecodeTrafficModel(strings.NewReader(src))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tm.HourlyDelayMinPer100KM[8] != 25 {
		t.Fatalf("unexpected table %+v", tm.HourlyDelayMinPer100KM)
	}
	if _, err := DecodeTrafficModel(strings.NewReader(":::")); err == nil {
		t.Fatal("expected decode error")
	}
}
