package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rt-technologie/freightd/core/events"
	"github.com/rt-technologie/freightd/core/logger"
	"github.com/rt-technologie/freightd/core/model"
	"github.com/rt-technologie/freightd/internal/eventbus"
)

// GeofenceStatus summarizes the membership of a position relative to the two
// mission zones. NearestZone is ZoneNone when both distances are exactly
// equal: the source data gives no deterministic tie-break, so none is invented.
type GeofenceStatus struct {
	InLoadingZone      bool    `json:"in_loading_zone"`
	InDeliveryZone     bool    `json:"in_delivery_zone"`
	DistanceToLoading  float64 `json:"distance_to_loading_m"`
	DistanceToDelivery float64 `json:"distance_to_delivery_m"`
	NearestZone        events.Zone
}

// CheckGeofenceStatus computes zone membership and distances for a position
// against the mission's loading and delivery points.
func CheckGeofenceStatus(pos model.Coordinates, loading, delivery model.GeofencePoint) GeofenceStatus {
	st := GeofenceStatus{
		DistanceToLoading:  Haversine(pos, loading.Coordinates),
		DistanceToDelivery: Haversine(pos, delivery.Coordinates),
	}
	st.InLoadingZone = st.DistanceToLoading <= loading.Radius()
	st.InDeliveryZone = st.DistanceToDelivery <= delivery.Radius()
	switch {
	case st.DistanceToLoading < st.DistanceToDelivery:
		st.NearestZone = events.ZoneLoading
	case st.DistanceToDelivery < st.DistanceToLoading:
		st.NearestZone = events.ZoneDelivery
	default:
		st.NearestZone = events.ZoneNone
	}
	return st
}

// HistoryStore keeps recorded position fixes per mission, append-only.
type HistoryStore interface {
	Append(ctx context.Context, fix model.PositionFix) error
	// Query returns fixes for a mission between from and to (zero values
	// disable the bound), newest first, at most limit entries.
	Query(ctx context.Context, missionID string, from, to time.Time, limit int) ([]model.PositionFix, error)
	Last(ctx context.Context, missionID string) (model.PositionFix, bool, error)
}

// EventStore keeps derived geofence events per mission.
type EventStore interface {
	Append(ctx context.Context, ev events.GeofenceEvent) error
	List(ctx context.Context, missionID string) ([]events.GeofenceEvent, error)
}

// zoneState remembers the debounced membership of one mission in one zone.
type zoneState struct {
	inside    bool
	changedAt time.Time
	// seeded is false until the first fix establishes a baseline; the
	// baseline itself emits no event.
	seeded bool
}

// MissionResolver returns the mission a fix belongs to. It decouples the
// tracker from the mission store.
type MissionResolver interface {
	Get(ctx context.Context, id string) (model.Mission, error)
}

// Tracker converts raw GPS fixes into zone transition events. Event emission
// is idempotent and debounced: membership only flips after the dwell time has
// elapsed since the previous flip, suppressing boundary flicker from GPS
// noise, and identical fixes never produce duplicate events.
type Tracker struct {
	missions MissionResolver
	history  HistoryStore
	eventLog EventStore
	bus      *eventbus.TypedBus[events.GeofenceEvent]
	log      logger.Logger
	dwell    time.Duration

	mu    sync.Mutex
	state map[string]map[events.Zone]*zoneState
	seen  map[string]time.Time
}

// DefaultDwell is the minimum time a membership must hold before the tracker
// accepts another flip for the same zone.
const DefaultDwell = 30 * time.Second

// NewTracker creates a Tracker. The bus may be nil.
func NewTracker(missions MissionResolver, history HistoryStore, eventLog EventStore, bus *eventbus.TypedBus[events.GeofenceEvent], log logger.Logger, dwell time.Duration) (*Tracker, error) {
	if missions == nil || history == nil || eventLog == nil || log == nil {
		return nil, fmt.Errorf("tracking: nil parameter provided to NewTracker")
	}
	if dwell <= 0 {
		dwell = DefaultDwell
	}
	return &Tracker{
		missions: missions,
		history:  history,
		eventLog: eventLog,
		bus:      bus,
		log:      log,
		dwell:    dwell,
		state:    map[string]map[events.Zone]*zoneState{},
		seen:     map[string]time.Time{},
	}, nil
}

// Record validates and stores the fix, then derives the zone transitions it
// caused. A fix crossing overlapping zones can yield two events (loading exit
// and delivery enter); each is logged and published. Re-submitting the same
// fix is a no-op beyond the first recording.
func (t *Tracker) Record(ctx context.Context, fix model.PositionFix) ([]events.GeofenceEvent, error) {
	if err := fix.Validate(); err != nil {
		return nil, fmt.Errorf("invalid position fix: %w", err)
	}
	m, err := t.missions.Get(ctx, fix.MissionID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if last, ok := t.seen[fix.MissionID]; ok && !fix.Timestamp.After(last) {
		t.mu.Unlock()
		t.log.Debugf("duplicate fix for mission %s at %s ignored", fix.MissionID, fix.Timestamp)
		return nil, nil
	}
	t.seen[fix.MissionID] = fix.Timestamp
	t.mu.Unlock()

	if err := t.history.Append(ctx, fix); err != nil {
		return nil, fmt.Errorf("append position: %w", err)
	}
	positionsRecorded.Inc()

	evs := t.transition(fix, m)
	for _, ev := range evs {
		if err := t.eventLog.Append(ctx, ev); err != nil {
			return nil, fmt.Errorf("append geofence event: %w", err)
		}
		geofenceEvents.WithLabelValues(ev.Zone.String(), ev.Transition.String()).Inc()
		t.log.Infof("geofence %s %s for mission %s", ev.Zone, ev.Transition, ev.MissionID)
		if t.bus != nil {
			t.bus.Publish(ev)
		}
	}
	return evs, nil
}

// transition updates the per-zone membership state and returns every
// transition the fix caused. Loading is evaluated before delivery so the
// event order follows the leg order.
func (t *Tracker) transition(fix model.PositionFix, m model.Mission) []events.GeofenceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	zones := t.state[fix.MissionID]
	if zones == nil {
		zones = map[events.Zone]*zoneState{
			events.ZoneLoading:  {},
			events.ZoneDelivery: {},
		}
		t.state[fix.MissionID] = zones
	}

	checks := []struct {
		zone  events.Zone
		point model.GeofencePoint
	}{
		{events.ZoneLoading, m.LoadingPoint},
		{events.ZoneDelivery, m.DeliveryPoint},
	}
	var out []events.GeofenceEvent
	for _, c := range checks {
		inside := InsideGeofence(fix.Coords(), c.point.Coordinates, c.point.Radius())
		zs := zones[c.zone]
		if !zs.seeded {
			zs.seeded = true
			zs.inside = inside
			continue
		}
		if inside == zs.inside {
			continue
		}
		// Hysteresis: once a flip was emitted, the membership must hold
		// for the dwell time before it may flip again.
		if !zs.changedAt.IsZero() && fix.Timestamp.Sub(zs.changedAt) < t.dwell {
			continue
		}
		zs.inside = inside
		zs.changedAt = fix.Timestamp
		tr := events.TransitionExit
		if inside {
			tr = events.TransitionEnter
		}
		out = append(out, events.GeofenceEvent{
			MissionID:  fix.MissionID,
			Zone:       c.zone,
			Transition: tr,
			Timestamp:  fix.Timestamp,
			Automatic:  true,
		})
	}
	return out
}
