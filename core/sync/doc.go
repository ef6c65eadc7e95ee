// Package sync implements the client-side offline outbox. Writes attempted
// without connectivity are persisted locally and drained to the server in
// strict creation order once connectivity returns, with a bounded retry
// policy per mutation.
package sync
