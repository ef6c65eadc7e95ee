package mission

import "errors"

// ErrNotFound is returned when no mission exists for the given id.
var ErrNotFound = errors.New("mission not found")

// ErrConflict is returned on a stale expectedVersion, on commands against a
// terminal mission and on late or mismatched dispatch acceptances. It is
// never retried automatically.
var ErrConflict = errors.New("mission conflict")

// ErrInvalidTransition is returned when a command is not allowed by the
// lifecycle adjacency table.
var ErrInvalidTransition = errors.New("invalid transition")
