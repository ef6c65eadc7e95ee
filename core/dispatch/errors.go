package dispatch

import "errors"

// ErrChainExhausted signals that every candidate in the dispatch chain was
// tried without success. It is handled internally by escalating the mission
// to the broad-sourcing collaborator and never surfaces to API callers.
var ErrChainExhausted = errors.New("dispatch chain exhausted")

// ErrUnfulfilled is returned when the escalation collaborator also failed.
// The mission then requires human intervention; the engine never retries it.
var ErrUnfulfilled = errors.New("mission unfulfilled after escalation")

// ErrOfferExists is returned when an offer is created for a mission that
// already has a pending one. The chain is strictly sequential.
var ErrOfferExists = errors.New("pending offer already exists")

// ErrOfferResolved is returned when resolving an offer that is no longer
// pending. Resolved offers are immutable.
var ErrOfferResolved = errors.New("offer already resolved")
