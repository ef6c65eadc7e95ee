package model

import (
	"fmt"
	"time"
)

// PositionFix is a single raw GPS sample reported for a mission.
// Fixes are immutable once recorded and append-only per mission.
type PositionFix struct {
	MissionID string  `json:"mission_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	AccuracyM float64 `json:"accuracy_m,omitempty"`
	// SpeedKMH is the live ground speed when the unit reports one.
	SpeedKMH   *float64  `json:"speed_kmh,omitempty"`
	HeadingDeg *float64  `json:"heading_deg,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate checks value ranges on the raw sample.
func (f PositionFix) Validate() error {
	if f.MissionID == "" {
		return fmt.Errorf("mission id is required")
	}
	if f.Latitude < -90 || f.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", f.Latitude)
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", f.Longitude)
	}
	if f.AccuracyM < 0 {
		return fmt.Errorf("accuracy must not be negative")
	}
	if f.HeadingDeg != nil && (*f.HeadingDeg < 0 || *f.HeadingDeg > 360) {
		return fmt.Errorf("heading %v out of range", *f.HeadingDeg)
	}
	if f.SpeedKMH != nil && *f.SpeedKMH < 0 {
		return fmt.Errorf("speed must not be negative")
	}
	if f.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Coords returns the fix position as Coordinates.
func (f PositionFix) Coords() Coordinates {
	return Coordinates{Latitude: f.Latitude, Longitude: f.Longitude}
}
