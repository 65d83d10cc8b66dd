package consent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/util"

	"github.com/wrapline/wrapline-go/cache"
	"github.com/wrapline/wrapline-go/config"
)

const markerKey = "wrapline.consent.marker"

// Subscriber receives consent transitions. Notification is synchronous and in
// registration order, on the goroutine that triggered the transition.
type Subscriber interface {
	OnConsentChange(ctx context.Context, state State, record Record)
}

// SubscriberFunc adapts a plain function into a Subscriber.
type SubscriberFunc func(ctx context.Context, state State, record Record)

func (f SubscriberFunc) OnConsentChange(ctx context.Context, state State, record Record) {
	f(ctx, state, record)
}

// Gate is the consent state machine. It starts Undetermined, moves to Granted
// or Denied on an explicit decision, and never silently reverts. All reads and
// transitions are safe for concurrent use.
type Gate struct {
	mu          sync.RWMutex
	notifyMu    sync.Mutex
	state       State
	record      *Record
	subscribers []Subscriber

	store     Store
	markers   cache.RawCache
	markerTTL time.Duration
}

// NewGate creates a gate over the given store. markers may be nil, in which
// case no lightweight decision marker is kept alongside the record.
func NewGate(cfg config.ConfigurationConsent, store Store, markers cache.RawCache) *Gate {
	return &Gate{
		state:     StateUndetermined,
		store:     store,
		markers:   markers,
		markerTTL: cfg.GetConsentMarkerTTL(),
	}
}

// Bootstrap restores a previously persisted decision, if any, and notifies
// subscribers registered before the call. A session with no stored record
// stays Undetermined without error.
func (g *Gate) Bootstrap(ctx context.Context) {
	record, err := g.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoDecision) {
			util.Log(ctx).WithError(err).Warn("could not restore consent record")
		}
		return
	}

	// The full record is authoritative; the marker only signals that a
	// decision exists, so a missing or expired marker changes nothing here.
	g.transition(ctx, record, false)
}

// Decide records an explicit user decision and transitions the gate. The
// in-memory transition and subscriber notification always happen; persistence
// is best effort.
func (g *Gate) Decide(ctx context.Context, analyticsGranted bool) Record {
	record := NewRecord(analyticsGranted)
	g.transition(ctx, record, true)
	return record
}

// transition applies one decision and tells the subscribers. Transitions are
// serialized: the state update and the callbacks of one decision finish
// before the next decision's callbacks begin, so subscribers always observe
// transitions in the order the gate applied them.
func (g *Gate) transition(ctx context.Context, record Record, persist bool) {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()

	next := record.State()

	g.mu.Lock()
	prev := g.state
	g.state = next
	g.record = &record
	subscribers := make([]Subscriber, len(g.subscribers))
	copy(subscribers, g.subscribers)
	g.mu.Unlock()

	if persist {
		if err := g.store.Save(ctx, record); err != nil {
			util.Log(ctx).WithError(err).Warn("could not persist consent record")
		}
		g.setMarker(ctx)
	}

	util.Log(ctx).
		WithField("from", prev.String()).
		WithField("to", next.String()).
		Debug("consent transition")

	for _, sub := range subscribers {
		sub.OnConsentChange(ctx, next, record)
	}
}

func (g *Gate) setMarker(ctx context.Context) {
	if g.markers == nil {
		return
	}
	if err := g.markers.Set(ctx, markerKey, []byte("1"), g.markerTTL); err != nil {
		util.Log(ctx).WithError(err).Warn("could not set consent marker")
	}
}

// Subscribe registers a subscriber for future transitions. Subscribers that
// want the current state must read it themselves before subscribing, or use
// SubscribeAndGet to do both in one step.
func (g *Gate) Subscribe(sub Subscriber) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribers = append(g.subscribers, sub)
}

// SubscribeAndGet registers the subscriber and returns the state it will see
// transitions from. Registration and the read happen under one lock, so no
// decision can land between them unobserved.
func (g *Gate) SubscribeAndGet(sub Subscriber) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribers = append(g.subscribers, sub)
	return g.state
}

// State returns the current gate state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// HasDecided reports whether this install has ever recorded a decision,
// current session included. The lightweight marker answers first; only when
// no marker is found does the full record get consulted.
func (g *Gate) HasDecided(ctx context.Context) bool {
	if g.State() != StateUndetermined {
		return true
	}

	if g.markers != nil {
		if ok, err := g.markers.Exists(ctx, markerKey); err == nil && ok {
			return true
		}
	}

	_, err := g.store.Load(ctx)
	return err == nil
}

// Current returns the decision record behind the current state, or false while
// the gate is still Undetermined.
func (g *Gate) Current() (Record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.record == nil {
		return Record{}, false
	}
	return *g.record, true
}
