package sync

import (
	"errors"
	"fmt"
)

// NetworkError marks a delivery failure that is worth retrying. Any other
// submission error is treated as permanent and drops the mutation
// immediately, since retrying a rejected write cannot succeed.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether the error is a NetworkError.
func Retryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
