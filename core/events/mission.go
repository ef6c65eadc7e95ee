package events

import (
	"time"

	"github.com/rt-technologie/freightd/core/model"
)

// MissionEvent is published after a lifecycle transition was applied.
type MissionEvent struct {
	MissionID string
	From      model.MissionStatus
	To        model.MissionStatus
	Version   int64
	// Automatic is true for transitions triggered by geofence events.
	Automatic bool
	Timestamp time.Time
}

// OfferEvent is emitted when a dispatch offer changes state. Action can be
// "offered", "accepted", "refused", "expired", "escalated", "assigned" or
// "unfulfilled".
type OfferEvent struct {
	MissionID   string
	CandidateID string
	Action      string
	ChainIndex  int
	ExpiresAt   time.Time
	Err         error
}
