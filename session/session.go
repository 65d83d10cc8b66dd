// Package session tracks the identity and progress of one visitor session:
// a random identifier, the count of meaningful interactions, and the active
// display language.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// Session is the per-visit state shared by telemetry and localization.
// All methods are safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	id        string
	startedAt time.Time
	uxTurns   int
	language  string
}

// New creates a session with a fresh random identifier and the given starting
// language.
func New(language string) *Session {
	return &Session{
		id:        newID(),
		startedAt: time.Now(),
		language:  language,
	}
}

// newID returns a 128-bit random identifier. If the system entropy source
// fails, a time-seeded id keeps the session usable rather than aborting init.
func newID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return xid.New().String()
	}
	return id.String()
}

// StartedAt returns when the session began.
func (s *Session) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// ID returns the session identifier. Stable for the lifetime of the session.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// IncrementTurn records one meaningful user interaction and returns the new
// count.
func (s *Session) IncrementTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uxTurns++
	return s.uxTurns
}

// Turns returns the number of interactions recorded so far.
func (s *Session) Turns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uxTurns
}

// SetLanguage switches the active display language.
func (s *Session) SetLanguage(language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = language
}

// Language returns the active display language.
func (s *Session) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

// Snapshot is a read-only copy of the session state at one instant.
type Snapshot struct {
	ID       string
	UXTurns  int
	Language string
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:       s.id,
		UXTurns:  s.uxTurns,
		Language: s.language,
	}
}
