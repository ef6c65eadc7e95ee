// Package dispatch implements the SLA-bound carrier solicitation chain.
//
// A mission carries an ordered list of carrier candidates. The engine offers
// the mission to one candidate at a time; each offer expires after the
// policy's SLA window, advancing the chain. When the chain is exhausted the
// mission escalates to the broad-sourcing collaborator, and a failure there
// surfaces the mission as unfulfilled for human intervention.
package dispatch
