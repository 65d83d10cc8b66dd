// Package consent is the single source of truth for whether non-essential
// data collection is permitted. A decision is a new immutable record, never a
// mutation of history, and in-session correctness never depends on storage.
package consent

import (
	"time"
)

// State describes where the gate stands. A session starts Undetermined and
// never returns there once a decision exists, though later explicit flips
// between Granted and Denied are permitted.
type State int

const (
	StateUndetermined State = iota
	StateGranted
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateGranted:
		return "granted"
	case StateDenied:
		return "denied"
	default:
		return "undetermined"
	}
}

// Record captures one consent decision. Functional consent is constant: the
// storefront cannot run without its own functional storage, so the only real
// question is analytics.
type Record struct {
	Functional bool      `json:"functional"`
	Analytics  bool      `json:"analytics"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewRecord creates a decision record stamped with the current instant.
func NewRecord(analyticsGranted bool) Record {
	return Record{
		Functional: true,
		Analytics:  analyticsGranted,
		Timestamp:  time.Now().UTC(),
	}
}

// State maps the record onto the gate state it implies.
func (r Record) State() State {
	if r.Analytics {
		return StateGranted
	}
	return StateDenied
}
