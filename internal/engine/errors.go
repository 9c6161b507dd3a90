package engine

import (
	"errors"
	"fmt"

	"bilancio/internal/core"
	"bilancio/internal/replica"
)

// ErrorKind classifies sync failures. Merge and aggregation are total pure
// functions; every fallible path ends at the engine boundary with one of
// these kinds.
type ErrorKind int

const (
	// KindConnection: the remote replica was unreachable or rejected a write.
	KindConnection ErrorKind = iota + 1
	// KindNotFound: the family reference has never been written.
	KindNotFound
	// KindState: the operation referenced local state that no longer exists
	// or the engine is not in a state to perform it.
	KindState
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Error is a classified sync failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sync %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrStopped is returned when the engine's task loop is no longer running.
var ErrStopped = errors.New("sync engine stopped")

// ErrNotConnected is returned by Push and Pull without an active family link.
var ErrNotConnected = errors.New("no active family connection")

// classify wraps an underlying failure with its error kind.
func classify(op string, err error) *Error {
	kind := KindConnection
	switch {
	case errors.Is(err, replica.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, core.ErrBudgetNotFound), errors.Is(err, ErrNotConnected):
		kind = KindState
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
