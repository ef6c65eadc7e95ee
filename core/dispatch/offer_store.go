package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rt-technologie/freightd/core/model"
)

// OfferStore persists dispatch offers. The store enforces the single pending
// offer invariant and makes expiry timers recoverable across restarts.
type OfferStore interface {
	// Create persists a new pending offer. It fails with ErrOfferExists when
	// the mission already has one.
	Create(ctx context.Context, offer model.DispatchOffer) error
	// Pending returns the pending offer of a mission, if any.
	Pending(ctx context.Context, missionID string) (model.DispatchOffer, bool, error)
	// Resolve moves a pending offer to a final outcome. It fails with
	// ErrOfferResolved when the offer is no longer pending.
	Resolve(ctx context.Context, offerID string, outcome model.OfferOutcome, at time.Time) error
	// List returns all offers of a mission in chain order.
	List(ctx context.Context, missionID string) ([]model.DispatchOffer, error)
	// PendingAll returns every pending offer, used for timer recovery.
	PendingAll(ctx context.Context) ([]model.DispatchOffer, error)
	Close() error
}

// MemoryOfferStore is an in-memory OfferStore.
type MemoryOfferStore struct {
	mu     sync.RWMutex
	byID   map[string]model.DispatchOffer
	byMish map[string][]string
}

// NewMemoryOfferStore creates an empty MemoryOfferStore.
func NewMemoryOfferStore() *MemoryOfferStore {
	return &MemoryOfferStore{byID: map[string]model.DispatchOffer{}, byMish: map[string][]string{}}
}

func (s *MemoryOfferStore) Create(ctx context.Context, offer model.DispatchOffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byMish[offer.MissionID] {
		if s.byID[id].Pending() {
			return fmt.Errorf("%w: mission %s", ErrOfferExists, offer.MissionID)
		}
	}
	if _, ok := s.byID[offer.ID]; ok {
		return fmt.Errorf("offer %s already exists", offer.ID)
	}
	s.byID[offer.ID] = offer
	s.byMish[offer.MissionID] = append(s.byMish[offer.MissionID], offer.ID)
	return nil
}

func (s *MemoryOfferStore) Pending(ctx context.Context, missionID string) (model.DispatchOffer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byMish[missionID] {
		if o := s.byID[id]; o.Pending() {
			return o, true, nil
		}
	}
	return model.DispatchOffer{}, false, nil
}

func (s *MemoryOfferStore) Resolve(ctx context.Context, offerID string, outcome model.OfferOutcome, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[offerID]
	if !ok {
		return fmt.Errorf("offer %s not found", offerID)
	}
	if !o.Pending() {
		return fmt.Errorf("%w: offer %s is %s", ErrOfferResolved, offerID, o.Outcome)
	}
	o.Outcome = outcome
	o.ResolvedAt = at
	s.byID[offerID] = o
	return nil
}

func (s *MemoryOfferStore) List(ctx context.Context, missionID string) ([]model.DispatchOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.DispatchOffer, 0, len(s.byMish[missionID]))
	for _, id := range s.byMish[missionID] {
		res = append(res, s.byID[id])
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ChainIndex < res[j].ChainIndex })
	return res, nil
}

func (s *MemoryOfferStore) PendingAll(ctx context.Context) ([]model.DispatchOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.DispatchOffer
	for _, o := range s.byID {
		if o.Pending() {
			res = append(res, o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ExpiresAt.Before(res[j].ExpiresAt) })
	return res, nil
}

func (s *MemoryOfferStore) Close() error { return nil }
