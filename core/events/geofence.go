package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Zone identifies which geofence a transition refers to.
type Zone int

const (
	ZoneNone Zone = iota
	ZoneLoading
	ZoneDelivery
)

// String returns the wire representation of the zone.
func (z Zone) String() string {
	switch z {
	case ZoneLoading:
		return "loading"
	case ZoneDelivery:
		return "delivery"
	default:
		return "none"
	}
}

// ParseZone converts the wire representation back to a Zone.
func ParseZone(s string) (Zone, error) {
	switch s {
	case "none":
		return ZoneNone, nil
	case "loading":
		return ZoneLoading, nil
	case "delivery":
		return ZoneDelivery, nil
	}
	return 0, fmt.Errorf("unknown zone %q", s)
}

// MarshalJSON encodes the zone as its wire string, e.g. "loading".
func (z Zone) MarshalJSON() ([]byte, error) {
	return json.Marshal(z.String())
}

// UnmarshalJSON decodes the wire string form of a zone.
func (z *Zone) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	zone, err := ParseZone(str)
	if err != nil {
		return err
	}
	*z = zone
	return nil
}

// Transition is the direction of a zone membership change.
type Transition int

const (
	TransitionEnter Transition = iota
	TransitionExit
)

// String returns the wire representation of the transition.
func (t Transition) String() string {
	if t == TransitionExit {
		return "exit"
	}
	return "enter"
}

// ParseTransition converts the wire representation back to a Transition.
func ParseTransition(s string) (Transition, error) {
	switch s {
	case "enter":
		return TransitionEnter, nil
	case "exit":
		return TransitionExit, nil
	}
	return 0, fmt.Errorf("unknown transition %q", s)
}

// MarshalJSON encodes the transition as its wire string, "enter" or "exit".
func (t Transition) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the wire string form of a transition.
func (t *Transition) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	tr, err := ParseTransition(str)
	if err != nil {
		return err
	}
	*t = tr
	return nil
}

// GeofenceEvent is published when a mission crosses a zone boundary.
// The tracker guarantees at most one event per (mission, zone, transition)
// within its dwell window.
type GeofenceEvent struct {
	MissionID  string     `json:"mission_id"`
	Zone       Zone       `json:"zone"`
	Transition Transition `json:"transition"`
	Timestamp  time.Time  `json:"timestamp"`
	// Automatic marks events derived from raw fixes rather than commands.
	Automatic bool `json:"automatic"`
}
