package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// OfferOutcome is the resolution state of a dispatch offer.
type OfferOutcome int

const (
	OfferPending OfferOutcome = iota
	OfferAccepted
	OfferRefused
	OfferExpired
)

// String returns the wire representation of the outcome.
func (o OfferOutcome) String() string {
	switch o {
	case OfferPending:
		return "pending"
	case OfferAccepted:
		return "accepted"
	case OfferRefused:
		return "refused"
	case OfferExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ParseOfferOutcome converts the wire representation back to an OfferOutcome.
func ParseOfferOutcome(s string) (OfferOutcome, error) {
	for o := OfferPending; o <= OfferExpired; o++ {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown offer outcome %q", s)
}

// MarshalJSON encodes the outcome as its wire string, e.g. "pending".
func (o OfferOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes the wire string form of an outcome.
func (o *OfferOutcome) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	out, err := ParseOfferOutcome(str)
	if err != nil {
		return err
	}
	*o = out
	return nil
}

// DispatchOffer is one solicitation of a carrier candidate for a mission.
// At most one pending offer exists per mission; a resolved offer is immutable.
type DispatchOffer struct {
	ID          string       `json:"id"`
	MissionID   string       `json:"mission_id"`
	CandidateID string       `json:"candidate_id"`
	ChainIndex  int          `json:"chain_index"`
	OfferedAt   time.Time    `json:"offered_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Outcome     OfferOutcome `json:"outcome"`
	ResolvedAt  time.Time    `json:"resolved_at,omitempty"`
}

// Pending reports whether the offer is still awaiting a response.
func (o DispatchOffer) Pending() bool { return o.Outcome == OfferPending }

// ExpiredAt reports whether the offer deadline has passed at the given time.
func (o DispatchOffer) ExpiredAt(now time.Time) bool { return !now.Before(o.ExpiresAt) }
