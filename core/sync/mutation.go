package sync

import (
	"encoding/json"
	"fmt"
	"time"
)

// MutationType classifies a buffered client write.
type MutationType string

const (
	MutationGPS       MutationType = "GPS"
	MutationStatus    MutationType = "STATUS"
	MutationSignature MutationType = "SIGNATURE"
	MutationDocument  MutationType = "DOCUMENT"
)

// Valid reports whether the type is one of the known mutation kinds.
func (t MutationType) Valid() bool {
	switch t {
	case MutationGPS, MutationStatus, MutationSignature, MutationDocument:
		return true
	}
	return false
}

// Mutation is one client write buffered while offline. Mutations are drained
// in Seq order: a status transition must reach the server before a signature
// that depends on it.
type Mutation struct {
	ID         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	Type       MutationType    `json:"type"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retry_count"`
}

// Validate checks the mutation shape before it enters the queue.
func (m Mutation) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("mutation id is required")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("unknown mutation type %q", m.Type)
	}
	if len(m.Data) == 0 {
		return fmt.Errorf("mutation payload is required")
	}
	return nil
}
