package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrModelTimeout is returned when a single model query exceeds the
	// configured timeout. The turn is aborted and the history left untouched.
	ErrModelTimeout = errors.New("model query timed out")

	// ErrBusy is returned when a session is asked a question while it is
	// still working on the previous one.
	ErrBusy = errors.New("session is already running a turn")
)

// ModelQueryError wraps any failure of the model call itself (network,
// authentication, rate limits, malformed streams).
type ModelQueryError struct {
	Err error
}

func (e *ModelQueryError) Error() string {
	return fmt.Sprintf("model query failed: %v", e.Err)
}

func (e *ModelQueryError) Unwrap() error {
	return e.Err
}
