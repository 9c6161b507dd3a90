package engine

import "bilancio/internal/core"

// Status is the sync engine's lifecycle state. Transitions:
//
//	Idle  → Initializing → Idle | Error   (Connect / CreateFamily)
//	Idle  → Syncing      → Idle | Error   (Push / Pull / remote delivery)
//	Error → Syncing                       (manual retry only)
//
// There is no automatic retry and no backoff timer.
type Status int

const (
	StatusIdle Status = iota
	StatusInitializing
	StatusSyncing
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInitializing:
		return "initializing"
	case StatusSyncing:
		return "syncing"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is an advisory snapshot for display. It carries the single
// current-error value, overwritten by the outcome of the next attempt; it
// never gates mutations and does not prevent overlapping sync cycles.
type State struct {
	Status   Status
	Err      error
	LastSync core.Timestamp
}
