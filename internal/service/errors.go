package service

import (
	"errors"
	"fmt"
)

var (
	// ErrRunActive is returned when a start is attempted while a run is
	// already live or a previous start has not resolved yet.
	ErrRunActive = errors.New("a run is already active")

	// ErrNoRun is returned when stopping while no run is live.
	ErrNoRun = errors.New("no active run")

	// ErrRejected is returned when the run service refuses to start a run
	// (bad parameters, quota, locked task).
	ErrRejected = errors.New("run rejected by service")
)

// TransportError wraps a network or service failure for a named operation.
// Callers surface it as a reportable message; it never crosses a module
// boundary as a panic and never leaves the lifecycle in an ambiguous state.
type TransportError struct {
	Op  string // e.g. "start run", "fetch results"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err for the given operation.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}
