package events

import "time"

// SyncEvent reports the outcome of one offline queue delivery attempt.
// Action can be "delivered", "retried" or "dropped".
type SyncEvent struct {
	MutationID string
	Type       string
	Action     string
	RetryCount int
	Err        error
	Timestamp  time.Time
}
