package dispatch

import (
	"context"

	"github.com/rt-technologie/freightd/core/model"
)

// Escalator is the broad-sourcing collaborator that takes over when the
// dispatch chain is exhausted. Submit returns the carrier it found or an
// error when sourcing definitively failed.
type Escalator interface {
	Submit(ctx context.Context, m model.Mission) (carrierID string, err error)
}

// EscalatorFunc adapts a function to the Escalator interface.
type EscalatorFunc func(ctx context.Context, m model.Mission) (string, error)

func (f EscalatorFunc) Submit(ctx context.Context, m model.Mission) (string, error) {
	return f(ctx, m)
}
