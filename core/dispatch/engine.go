package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rt-technologie/freightd/core/events"
	"github.com/rt-technologie/freightd/core/logger"
	"github.com/rt-technologie/freightd/core/mission"
	"github.com/rt-technologie/freightd/core/model"
	"github.com/rt-technologie/freightd/internal/eventbus"
)

// Engine solicits the carriers of a mission's dispatch chain one at a time
// under an SLA timer. Exactly one offer is pending per mission; a refusal or
// an expiry advances the chain, and exhaustion escalates to the
// broad-sourcing collaborator.
//
// Expiry is durable: timers are armed from the persisted expires_at field and
// Recover re-arms them after a restart, so escalations are neither lost nor
// double-fired.
type Engine struct {
	machine   *mission.Machine
	offers    OfferStore
	escalator Escalator
	notifier  Notifier
	vigilance VigilanceChecker
	bus       eventbus.EventBus
	log       logger.Logger
	reminders []time.Duration

	mu     sync.Mutex
	timers map[string][]*time.Timer
	now    func() time.Time
	closed bool
}

// NewEngine creates an Engine. vigilance and bus may be nil; a nil notifier
// falls back to NopNotifier.
func NewEngine(machine *mission.Machine, offers OfferStore, escalator Escalator, notifier Notifier, vigilance VigilanceChecker, bus eventbus.EventBus, log logger.Logger, cfg Config) (*Engine, error) {
	if machine == nil || offers == nil || escalator == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewEngine")
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		machine:   machine,
		offers:    offers,
		escalator: escalator,
		notifier:  notifier,
		vigilance: vigilance,
		bus:       bus,
		log:       log,
		reminders: cfg.ReminderOffsets(),
		timers:    map[string][]*time.Timer{},
		now:       time.Now,
	}, nil
}

// SetClock overrides the time source, used by tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Offer starts or continues the dispatch chain for a mission awaiting
// assignment. When the chain is already exhausted the mission escalates; an
// ErrUnfulfilled return means even broad sourcing failed.
func (e *Engine) Offer(ctx context.Context, missionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offerLocked(ctx, missionID)
}

func (e *Engine) offerLocked(ctx context.Context, missionID string) error {
	m, err := e.machine.Get(ctx, missionID)
	if err != nil {
		return err
	}
	if m.Status != model.StatusPending {
		return fmt.Errorf("%w: mission %s is %s, not awaiting dispatch", mission.ErrConflict, missionID, m.Status)
	}
	if _, ok, err := e.offers.Pending(ctx, missionID); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: mission %s", ErrOfferExists, missionID)
	}

	next := 0
	prior, err := e.offers.List(ctx, missionID)
	if err != nil {
		return err
	}
	if n := len(prior); n > 0 {
		next = prior[n-1].ChainIndex + 1
	}

	chain := m.Policy.Chain
	for idx := next; idx < len(chain); idx++ {
		candidate := chain[idx]
		if e.blocked(ctx, candidate) {
			e.log.Warnf("mission %s: carrier %s blocked by vigilance, skipping", missionID, candidate)
			continue
		}
		now := e.now()
		offer := model.DispatchOffer{
			ID:          uuid.NewString(),
			MissionID:   missionID,
			CandidateID: candidate,
			ChainIndex:  idx,
			OfferedAt:   now,
			ExpiresAt:   now.Add(m.Policy.SLAAccept),
			Outcome:     model.OfferPending,
		}
		if err := e.offers.Create(ctx, offer); err != nil {
			return err
		}
		offersCreated.Inc()
		e.armTimers(offer)
		e.publish(events.OfferEvent{MissionID: missionID, CandidateID: candidate, Action: "offered", ChainIndex: idx, ExpiresAt: offer.ExpiresAt})
		e.log.Infof("mission %s: offered to %s (chain %d/%d), expires %s", missionID, candidate, idx+1, len(chain), offer.ExpiresAt.Format(time.RFC3339))
		e.notify(ctx, Notification{
			Kind:      "offer",
			MissionID: missionID,
			CarrierID: candidate,
			Subject:   fmt.Sprintf("Mission %s awaiting acceptance", missionID),
			Body:      fmt.Sprintf("A mission was offered to you. SLA %s.", m.Policy.SLAAccept),
		})
		return nil
	}
	return e.escalateLocked(ctx, m)
}

// blocked resolves the vigilance status of a candidate. Checker errors fall
// back to not-blocked so a screening outage never stalls the chain.
func (e *Engine) blocked(ctx context.Context, carrierID string) bool {
	if e.vigilance == nil {
		return false
	}
	st, err := e.vigilance.Status(ctx, carrierID)
	if err != nil {
		e.log.Warnf("vigilance check for %s failed: %v", carrierID, err)
		return false
	}
	return st == VigilanceBlocked
}

// escalateLocked hands an exhausted mission to the broad-sourcing
// collaborator. Failure there is fatal to automation: the mission surfaces as
// UNFULFILLED and is never silently retried.
func (e *Engine) escalateLocked(ctx context.Context, m model.Mission) error {
	escalated, err := e.machine.ApplyCommand(ctx, m.ID, mission.CommandEscalate, m.Version)
	if err != nil {
		return fmt.Errorf("escalate mission %s: %w", m.ID, err)
	}
	escalations.Inc()
	e.publish(events.OfferEvent{MissionID: m.ID, Action: "escalated"})
	e.log.Warnf("mission %s: dispatch chain exhausted, escalating", m.ID)
	e.notify(ctx, Notification{
		Kind:      "escalated",
		MissionID: m.ID,
		Subject:   fmt.Sprintf("Escalation for mission %s", m.ID),
		Body:      fmt.Sprintf("No carrier accepted mission %s, broad sourcing engaged.", m.ID),
	})

	carrierID, serr := e.escalator.Submit(ctx, escalated)
	if serr != nil {
		if _, uerr := e.machine.ApplyCommand(ctx, m.ID, mission.CommandMarkUnfulfilled, escalated.Version); uerr != nil {
			return fmt.Errorf("mark unfulfilled %s: %w", m.ID, uerr)
		}
		unfulfilled.Inc()
		e.publish(events.OfferEvent{MissionID: m.ID, Action: "unfulfilled", Err: serr})
		e.log.Errorf("mission %s: broad sourcing failed: %v", m.ID, serr)
		e.notify(ctx, Notification{
			Kind:      "unfulfilled",
			MissionID: m.ID,
			Subject:   fmt.Sprintf("Mission %s unfulfilled", m.ID),
			Body:      "Broad sourcing failed, human intervention required.",
		})
		return fmt.Errorf("%w: %v", ErrUnfulfilled, serr)
	}
	if _, err := e.machine.AssignCarrier(ctx, m.ID, carrierID, escalated.Version); err != nil {
		return fmt.Errorf("assign escalated carrier %s: %w", m.ID, err)
	}
	e.publish(events.OfferEvent{MissionID: m.ID, CandidateID: carrierID, Action: "assigned"})
	e.log.Infof("mission %s: broad sourcing assigned carrier %s", m.ID, carrierID)
	return nil
}

// Accept resolves the pending offer in favor of the candidate. Acceptance is
// valid only for the exact solicited carrier and strictly before expiry; late
// or mismatched acceptances return mission.ErrConflict.
func (e *Engine) Accept(ctx context.Context, missionID, candidateID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	off, ok, err := e.offers.Pending(ctx, missionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no pending offer for mission %s", mission.ErrConflict, missionID)
	}
	if off.CandidateID != candidateID {
		return fmt.Errorf("%w: offer for mission %s belongs to %s", mission.ErrConflict, missionID, off.CandidateID)
	}
	now := e.now()
	if off.ExpiredAt(now) {
		return fmt.Errorf("%w: offer for mission %s expired at %s", mission.ErrConflict, missionID, off.ExpiresAt.Format(time.RFC3339))
	}

	m, err := e.machine.Get(ctx, missionID)
	if err != nil {
		return err
	}
	// Assign before resolving: a version conflict here leaves the offer
	// pending and the timers armed, so the caller can retry cleanly.
	if _, err := e.machine.AssignCarrier(ctx, missionID, candidateID, m.Version); err != nil {
		return err
	}
	if err := e.offers.Resolve(ctx, off.ID, model.OfferAccepted, now); err != nil {
		return err
	}
	e.cancelTimersLocked(missionID)
	offersResolved.WithLabelValues(model.OfferAccepted.String()).Inc()
	acceptLatency.Observe(now.Sub(off.OfferedAt).Seconds())
	e.publish(events.OfferEvent{MissionID: missionID, CandidateID: candidateID, Action: "accepted", ChainIndex: off.ChainIndex})
	e.log.Infof("mission %s: accepted by %s", missionID, candidateID)
	e.notify(ctx, Notification{
		Kind:      "accepted",
		MissionID: missionID,
		CarrierID: candidateID,
		Subject:   fmt.Sprintf("Mission %s accepted", missionID),
		Body:      fmt.Sprintf("Carrier %s accepted mission %s.", candidateID, missionID),
	})
	return nil
}

// Refuse resolves the pending offer against the candidate and immediately
// solicits the next one in the chain.
func (e *Engine) Refuse(ctx context.Context, missionID, candidateID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	off, ok, err := e.offers.Pending(ctx, missionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no pending offer for mission %s", mission.ErrConflict, missionID)
	}
	if off.CandidateID != candidateID {
		return fmt.Errorf("%w: offer for mission %s belongs to %s", mission.ErrConflict, missionID, off.CandidateID)
	}
	if err := e.offers.Resolve(ctx, off.ID, model.OfferRefused, e.now()); err != nil {
		return err
	}
	e.cancelTimersLocked(missionID)
	offersResolved.WithLabelValues(model.OfferRefused.String()).Inc()
	e.publish(events.OfferEvent{MissionID: missionID, CandidateID: candidateID, Action: "refused", ChainIndex: off.ChainIndex})
	e.log.Infof("mission %s: refused by %s", missionID, candidateID)
	return e.offerLocked(ctx, missionID)
}

// expire is the timer callback for SLA expiry. It is a normal chain-advance
// trigger, not a failure.
func (e *Engine) expire(missionID, offerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	ctx := context.Background()
	off, ok, err := e.offers.Pending(ctx, missionID)
	if err != nil || !ok || off.ID != offerID {
		// Resolved concurrently, nothing to do.
		return
	}
	if err := e.offers.Resolve(ctx, off.ID, model.OfferExpired, e.now()); err != nil {
		e.log.Errorf("expire offer %s: %v", offerID, err)
		return
	}
	e.cancelTimersLocked(missionID)
	offersResolved.WithLabelValues(model.OfferExpired.String()).Inc()
	e.publish(events.OfferEvent{MissionID: missionID, CandidateID: off.CandidateID, Action: "expired", ChainIndex: off.ChainIndex})
	e.log.Infof("mission %s: offer to %s expired", missionID, off.CandidateID)
	if err := e.offerLocked(ctx, missionID); err != nil {
		e.log.Errorf("advance chain for %s: %v", missionID, err)
	}
}

// remind is the timer callback for SLA reminders.
func (e *Engine) remind(missionID, offerID string, left time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	ctx := context.Background()
	off, ok, err := e.offers.Pending(ctx, missionID)
	if err != nil || !ok || off.ID != offerID {
		return
	}
	e.log.Infof("mission %s: reminder T-%s for %s", missionID, left, off.CandidateID)
	e.notify(ctx, Notification{
		Kind:      "reminder",
		MissionID: missionID,
		CarrierID: off.CandidateID,
		Subject:   fmt.Sprintf("Reminder for mission %s", missionID),
		Body:      fmt.Sprintf("%s left to accept mission %s.", left, missionID),
	})
}

// armTimers schedules the expiry and reminder timers for a pending offer.
// Callers must hold e.mu.
func (e *Engine) armTimers(off model.DispatchOffer) {
	now := e.now()
	var ts []*time.Timer
	ts = append(ts, time.AfterFunc(maxDuration(0, off.ExpiresAt.Sub(now)), func() {
		e.expire(off.MissionID, off.ID)
	}))
	for _, offset := range e.reminders {
		offset := offset
		fireIn := off.ExpiresAt.Add(-offset).Sub(now)
		if fireIn <= 0 {
			continue
		}
		ts = append(ts, time.AfterFunc(fireIn, func() {
			e.remind(off.MissionID, off.ID, offset)
		}))
	}
	e.timers[off.MissionID] = ts
}

// cancelTimersLocked stops all timers of a mission. Callers must hold e.mu.
func (e *Engine) cancelTimersLocked(missionID string) {
	for _, t := range e.timers[missionID] {
		t.Stop()
	}
	delete(e.timers, missionID)
}

// Recover re-arms expiry timers from the persisted offers. Offers already
// past their deadline are expired immediately, advancing their chains.
// Recover must be called once on process start before new offers are made.
func (e *Engine) Recover(ctx context.Context) error {
	e.mu.Lock()
	pend, err := e.offers.PendingAll(ctx)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	now := e.now()
	var overdue []model.DispatchOffer
	for _, off := range pend {
		if off.ExpiredAt(now) {
			overdue = append(overdue, off)
			continue
		}
		e.armTimers(off)
		e.log.Infof("mission %s: recovered offer to %s, expires %s", off.MissionID, off.CandidateID, off.ExpiresAt.Format(time.RFC3339))
	}
	e.mu.Unlock()
	for _, off := range overdue {
		e.expire(off.MissionID, off.ID)
	}
	return nil
}

// Close stops all timers and the offer store. Pending offers stay persisted
// for the next Recover.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	for id := range e.timers {
		e.cancelTimersLocked(id)
	}
	e.mu.Unlock()
	return e.offers.Close()
}

func (e *Engine) publish(ev events.OfferEvent) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) notify(ctx context.Context, n Notification) {
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.log.Warnf("notify %s for mission %s: %v", n.Kind, n.MissionID, err)
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
