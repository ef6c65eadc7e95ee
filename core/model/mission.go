package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MissionStatus defines the lifecycle state of a transport mission.
type MissionStatus int

const (
	StatusPending MissionStatus = iota
	StatusEnRouteToLoading
	StatusArrivedLoading
	StatusLoaded
	StatusEnRouteToDelivery
	StatusArrivedDelivery
	StatusDelivered
	StatusCancelled
	StatusEscalated
	StatusUnfulfilled
)

// String returns a human-readable representation of the status.
func (s MissionStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusEnRouteToLoading:
		return "EN_ROUTE_TO_LOADING"
	case StatusArrivedLoading:
		return "ARRIVED_LOADING"
	case StatusLoaded:
		return "LOADED"
	case StatusEnRouteToDelivery:
		return "EN_ROUTE_TO_DELIVERY"
	case StatusArrivedDelivery:
		return "ARRIVED_DELIVERY"
	case StatusDelivered:
		return "DELIVERED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusEscalated:
		return "ESCALATED"
	case StatusUnfulfilled:
		return "UNFULFILLED"
	default:
		return "unknown"
	}
}

// ParseStatus converts the wire representation back to a MissionStatus.
func ParseStatus(s string) (MissionStatus, error) {
	for st := StatusPending; st <= StatusUnfulfilled; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown mission status %q", s)
}

// MarshalJSON encodes the status as its wire string, e.g. "EN_ROUTE_TO_LOADING".
func (s MissionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the wire string form of a status.
func (s *MissionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	st, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Terminal reports whether no further lifecycle transition is possible.
func (s MissionStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusUnfulfilled
}

// Coordinates is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GeofencePoint is a point of interest with a circular detection zone.
type GeofencePoint struct {
	Coordinates
	Name    string  `json:"name,omitempty"`
	Address string  `json:"address,omitempty"`
	RadiusM float64 `json:"radius_m"`
}

// DefaultGeofenceRadiusM is applied when a point does not carry its own radius.
const DefaultGeofenceRadiusM = 200

// Radius returns the detection radius in meters, falling back to the default.
func (p GeofencePoint) Radius() float64 {
	if p.RadiusM > 0 {
		return p.RadiusM
	}
	return DefaultGeofenceRadiusM
}

// DispatchPolicy describes how carriers are solicited for a mission.
type DispatchPolicy struct {
	// Chain is the ordered list of carrier candidates, tried one at a time.
	Chain []string `json:"chain"`
	// SLAAccept is the window a candidate has to accept before being bypassed.
	SLAAccept time.Duration `json:"sla_accept"`
}

// Mission represents a single freight movement from a loading point to a
// delivery point. It is mutated only through the state machine.
type Mission struct {
	ID        string `json:"id"`
	Reference string `json:"reference,omitempty"`

	ShipperID string `json:"shipper_id,omitempty"`
	CarrierID string `json:"carrier_id,omitempty"`
	DriverID  string `json:"driver_id,omitempty"`

	Status  MissionStatus `json:"status"`
	Version int64         `json:"version"`

	LoadingPoint  GeofencePoint `json:"loading_point"`
	DeliveryPoint GeofencePoint `json:"delivery_point"`

	Policy DispatchPolicy `json:"dispatch_policy"`

	// Milestones records when each lifecycle state was first reached.
	Milestones map[string]time.Time `json:"milestones,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the mission configuration is sound.
func (m Mission) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("mission id is required")
	}
	if len(m.Policy.Chain) == 0 {
		return fmt.Errorf("dispatch chain must not be empty")
	}
	if m.Policy.SLAAccept <= 0 {
		return fmt.Errorf("sla accept window must be positive")
	}
	return nil
}

// Destination returns the geofence point the mission is currently heading to,
// or false when the mission has no active destination.
func (m Mission) Destination() (GeofencePoint, bool) {
	switch m.Status {
	case StatusEnRouteToLoading, StatusArrivedLoading:
		return m.LoadingPoint, true
	case StatusLoaded, StatusEnRouteToDelivery, StatusArrivedDelivery:
		return m.DeliveryPoint, true
	default:
		return GeofencePoint{}, false
	}
}

// Stamp records the time the given status was reached. The first timestamp
// per milestone wins.
func (m *Mission) Stamp(status MissionStatus, at time.Time) {
	if m.Milestones == nil {
		m.Milestones = make(map[string]time.Time)
	}
	key := status.String()
	if _, ok := m.Milestones[key]; !ok {
		m.Milestones[key] = at
	}
}
