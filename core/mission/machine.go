package mission

import (
	"context"
	"fmt"
	"time"

	"github.com/rt-technologie/freightd/core/events"
	"github.com/rt-technologie/freightd/core/logger"
	"github.com/rt-technologie/freightd/core/model"
	"github.com/rt-technologie/freightd/internal/eventbus"
)

// Command is a lifecycle transition request.
type Command int

const (
	// CommandStart is issued by the driver when heading to the loading point.
	CommandStart Command = iota
	// CommandConfirmLoaded is issued once the goods are on board.
	CommandConfirmLoaded
	// CommandDepart is issued when leaving the loading site toward delivery.
	CommandDepart
	// CommandSign closes the mission with the recipient signature.
	CommandSign
	// CommandCancel aborts the mission from any non-terminal state.
	CommandCancel
	// CommandEscalate hands the mission to broad sourcing after chain exhaustion.
	CommandEscalate
	// CommandAssign returns an escalated mission to the pending pool with a carrier.
	CommandAssign
	// CommandMarkUnfulfilled flags an escalated mission nobody could serve.
	CommandMarkUnfulfilled
)

// String returns the wire representation of the command.
func (c Command) String() string {
	switch c {
	case CommandStart:
		return "START"
	case CommandConfirmLoaded:
		return "CONFIRM_LOADED"
	case CommandDepart:
		return "DEPART"
	case CommandSign:
		return "SIGN"
	case CommandCancel:
		return "CANCEL"
	case CommandEscalate:
		return "ESCALATE"
	case CommandAssign:
		return "ASSIGN"
	case CommandMarkUnfulfilled:
		return "MARK_UNFULFILLED"
	default:
		return "unknown"
	}
}

// ParseCommand converts the wire representation back to a Command.
func ParseCommand(s string) (Command, error) {
	for c := CommandStart; c <= CommandMarkUnfulfilled; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", s)
}

// transitions maps each command to its required source and resulting state.
// CommandCancel is handled separately since it applies to any non-terminal
// state.
var transitions = map[Command]struct {
	from model.MissionStatus
	to   model.MissionStatus
}{
	CommandStart:           {model.StatusPending, model.StatusEnRouteToLoading},
	CommandConfirmLoaded:   {model.StatusArrivedLoading, model.StatusLoaded},
	CommandDepart:          {model.StatusLoaded, model.StatusEnRouteToDelivery},
	CommandSign:            {model.StatusArrivedDelivery, model.StatusDelivered},
	CommandEscalate:        {model.StatusPending, model.StatusEscalated},
	CommandAssign:          {model.StatusEscalated, model.StatusPending},
	CommandMarkUnfulfilled: {model.StatusEscalated, model.StatusUnfulfilled},
}

// Apply is the pure transition function. It returns the updated mission or an
// error, never mutating its input. The version check runs before the
// adjacency check so concurrent writers always observe ErrConflict on stale
// state rather than a misleading transition error.
func Apply(m model.Mission, cmd Command, expectedVersion int64, now time.Time) (model.Mission, error) {
	if m.Version != expectedVersion {
		return model.Mission{}, fmt.Errorf("%w: mission %s at version %d, expected %d", ErrConflict, m.ID, m.Version, expectedVersion)
	}
	if m.Status.Terminal() {
		return model.Mission{}, fmt.Errorf("%w: mission %s is %s", ErrConflict, m.ID, m.Status)
	}

	var to model.MissionStatus
	if cmd == CommandCancel {
		to = model.StatusCancelled
	} else {
		tr, ok := transitions[cmd]
		if !ok {
			return model.Mission{}, fmt.Errorf("%w: unknown command %d", ErrInvalidTransition, cmd)
		}
		if m.Status != tr.from {
			return model.Mission{}, fmt.Errorf("%w: %s not allowed from %s", ErrInvalidTransition, cmd, m.Status)
		}
		to = tr.to
	}

	next := m
	next.Status = to
	next.Version = m.Version + 1
	next.UpdatedAt = now
	next.Milestones = make(map[string]time.Time, len(m.Milestones)+1)
	for k, v := range m.Milestones {
		next.Milestones[k] = v
	}
	next.Stamp(to, now)
	return next, nil
}

// Machine applies lifecycle transitions against the durable store with
// optimistic concurrency and publishes MissionEvents for each change.
type Machine struct {
	store Store
	bus   eventbus.EventBus
	log   logger.Logger
	now   func() time.Time
}

// NewMachine creates a Machine. The bus may be nil.
func NewMachine(store Store, bus eventbus.EventBus, log logger.Logger) (*Machine, error) {
	if store == nil || log == nil {
		return nil, fmt.Errorf("mission: nil parameter provided to NewMachine")
	}
	return &Machine{store: store, bus: bus, log: log, now: time.Now}, nil
}

// SetClock overrides the time source, used by tests.
func (ma *Machine) SetClock(now func() time.Time) { ma.now = now }

// Get returns the current mission state.
func (ma *Machine) Get(ctx context.Context, id string) (model.Mission, error) {
	return ma.store.Get(ctx, id)
}

// ApplyCommand loads the mission, applies the command at the expected version
// and persists the result. The store write re-checks the version so two
// concurrent callers with the same expectedVersion cannot both win.
func (ma *Machine) ApplyCommand(ctx context.Context, id string, cmd Command, expectedVersion int64) (model.Mission, error) {
	m, err := ma.store.Get(ctx, id)
	if err != nil {
		return model.Mission{}, err
	}
	next, err := Apply(m, cmd, expectedVersion, ma.now())
	if err != nil {
		return model.Mission{}, err
	}
	if err := ma.store.Put(ctx, next, expectedVersion); err != nil {
		return model.Mission{}, err
	}
	ma.log.Infof("mission %s: %s -> %s (%s)", id, m.Status, next.Status, cmd)
	ma.publish(m, next, false)
	return next, nil
}

// AssignCarrier records the carrier that will execute the mission. A pending
// mission keeps its status; an escalated mission returns to the pending pool
// through the CommandAssign transition. Both paths bump the version under the
// optimistic concurrency check.
func (ma *Machine) AssignCarrier(ctx context.Context, id, carrierID string, expectedVersion int64) (model.Mission, error) {
	m, err := ma.store.Get(ctx, id)
	if err != nil {
		return model.Mission{}, err
	}
	var next model.Mission
	switch m.Status {
	case model.StatusEscalated:
		next, err = Apply(m, CommandAssign, expectedVersion, ma.now())
		if err != nil {
			return model.Mission{}, err
		}
	case model.StatusPending:
		if m.Version != expectedVersion {
			return model.Mission{}, fmt.Errorf("%w: mission %s at version %d, expected %d", ErrConflict, id, m.Version, expectedVersion)
		}
		next = m
		next.Version = m.Version + 1
		next.UpdatedAt = ma.now()
	default:
		return model.Mission{}, fmt.Errorf("%w: cannot assign carrier while %s", ErrConflict, m.Status)
	}
	next.CarrierID = carrierID
	if err := ma.store.Put(ctx, next, expectedVersion); err != nil {
		return model.Mission{}, err
	}
	ma.log.Infof("mission %s: carrier %s assigned", id, carrierID)
	if m.Status != next.Status {
		ma.publish(m, next, false)
	}
	return next, nil
}

// ApplyGeofence advances the mission for a derived zone transition. A
// geofence event arriving for a mission already past the matching state is a
// no-op, not an error: duplicated or late events must not fail ingestion.
func (ma *Machine) ApplyGeofence(ctx context.Context, ev events.GeofenceEvent) (model.Mission, bool, error) {
	m, err := ma.store.Get(ctx, ev.MissionID)
	if err != nil {
		return model.Mission{}, false, err
	}
	cmd, ok := geofenceCommand(m, ev)
	if !ok {
		return m, false, nil
	}
	next, err := applyAuto(m, cmd, ma.now())
	if err != nil {
		return model.Mission{}, false, err
	}
	if err := ma.store.Put(ctx, next, m.Version); err != nil {
		return model.Mission{}, false, err
	}
	ma.log.Infof("mission %s: %s -> %s (geofence %s %s)", m.ID, m.Status, next.Status, ev.Zone, ev.Transition)
	ma.publish(m, next, true)
	return next, true, nil
}

// geofenceCommand maps a zone transition onto the automatic lifecycle
// adjacency. Only transitions valid for the current state produce a command.
func geofenceCommand(m model.Mission, ev events.GeofenceEvent) (autoCommand, bool) {
	switch {
	case ev.Zone == events.ZoneLoading && ev.Transition == events.TransitionEnter &&
		m.Status == model.StatusEnRouteToLoading:
		return autoArriveLoading, true
	case ev.Zone == events.ZoneLoading && ev.Transition == events.TransitionExit &&
		m.Status == model.StatusLoaded:
		return autoDepartLoading, true
	case ev.Zone == events.ZoneDelivery && ev.Transition == events.TransitionEnter &&
		m.Status == model.StatusEnRouteToDelivery:
		return autoArriveDelivery, true
	}
	return 0, false
}

type autoCommand int

const (
	autoArriveLoading autoCommand = iota
	autoDepartLoading
	autoArriveDelivery
)

var autoTransitions = map[autoCommand]struct {
	from model.MissionStatus
	to   model.MissionStatus
}{
	autoArriveLoading:  {model.StatusEnRouteToLoading, model.StatusArrivedLoading},
	autoDepartLoading:  {model.StatusLoaded, model.StatusEnRouteToDelivery},
	autoArriveDelivery: {model.StatusEnRouteToDelivery, model.StatusArrivedDelivery},
}

// applyAuto runs an automatic transition through the same guarded path as
// explicit commands, using the mission's own version as expectation.
func applyAuto(m model.Mission, cmd autoCommand, now time.Time) (model.Mission, error) {
	tr := autoTransitions[cmd]
	if m.Status != tr.from {
		return model.Mission{}, fmt.Errorf("%w: auto transition not allowed from %s", ErrInvalidTransition, m.Status)
	}
	next := m
	next.Status = tr.to
	next.Version = m.Version + 1
	next.UpdatedAt = now
	next.Milestones = make(map[string]time.Time, len(m.Milestones)+1)
	for k, v := range m.Milestones {
		next.Milestones[k] = v
	}
	next.Stamp(tr.to, now)
	return next, nil
}

func (ma *Machine) publish(from, to model.Mission, automatic bool) {
	if ma.bus == nil {
		return
	}
	ma.bus.Publish(events.MissionEvent{
		MissionID: to.ID,
		From:      from.Status,
		To:        to.Status,
		Version:   to.Version,
		Automatic: automatic,
		Timestamp: to.UpdatedAt,
	})
}
