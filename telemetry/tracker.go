package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pitabwire/util"

	"github.com/wrapline/wrapline-go/client"
	"github.com/wrapline/wrapline-go/config"
	"github.com/wrapline/wrapline-go/consent"
	"github.com/wrapline/wrapline-go/session"
	"github.com/wrapline/wrapline-go/workerpool"
)

// MirrorFunc receives a copy of every delivered payload so host-page
// observers can watch the analytics stream without another network hop.
type MirrorFunc func(ctx context.Context, event string, payload map[string]any)

type pendingEvent struct {
	name       string
	properties map[string]any
}

// Tracker validates, queues and dispatches analytics events. It owns the
// pending queue outright; nothing outside this type can reorder or mutate it.
type Tracker struct {
	cfg     config.ConfigurationAnalytics
	schema  Schema
	invoker client.Manager
	pool    workerpool.WorkerPool
	sess    *session.Session
	mirror  MirrorFunc

	mu           sync.Mutex
	state        consent.State
	pending      []pendingEvent
	drained      bool
	sessionEnded bool
}

// NewTracker builds a tracker and subscribes it to the gate. The gate must be
// bootstrapped first so the tracker starts from the restored consent state.
func NewTracker(
	cfg config.ConfigurationAnalytics,
	schema Schema,
	invoker client.Manager,
	pool workerpool.WorkerPool,
	gate *consent.Gate,
	sess *session.Session,
	mirror MirrorFunc,
) *Tracker {
	t := &Tracker{
		cfg:     cfg,
		schema:  schema,
		invoker: invoker,
		pool:    pool,
		sess:    sess,
		mirror:  mirror,
	}

	// Registration and the initial state read happen atomically, so a
	// decision landing during construction is either seen here or delivered
	// as a transition, never lost between the two.
	t.mu.Lock()
	t.state = gate.SubscribeAndGet(t)
	t.mu.Unlock()

	return t
}

// Track submits one event. Unknown names are dropped in every consent state.
// While consent is undetermined the event waits in the FIFO queue; once
// denied the call is a silent no-op; once granted the event is validated and
// delivered straight away.
func (t *Tracker) Track(ctx context.Context, name string, properties map[string]any) error {
	if !t.schema.Knows(name) {
		util.Log(ctx).WithField("event", name).Warn("dropping unknown event")
		return ErrUnknownEvent
	}

	t.mu.Lock()
	switch t.state {
	case consent.StateUndetermined:
		t.pending = append(t.pending, pendingEvent{name: name, properties: properties})
		t.mu.Unlock()
		return nil
	case consent.StateDenied:
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	return t.validateAndDeliver(ctx, name, properties)
}

// OnConsentChange reacts to gate transitions. A grant drains the queue in
// submission order through the same validation path as Track, exactly once
// per queue lifetime. A denial clears the queue, and when analytics had been
// running it sends one final consent_updated event on the way out.
func (t *Tracker) OnConsentChange(ctx context.Context, state consent.State, record consent.Record) {
	t.mu.Lock()
	prev := t.state
	t.state = state

	switch state {
	case consent.StateGranted:
		if t.drained {
			t.mu.Unlock()
			return
		}
		queued := t.pending
		t.pending = nil
		t.drained = true
		t.mu.Unlock()
		t.drain(ctx, queued)

	case consent.StateDenied:
		dropped := len(t.pending)
		t.pending = nil
		t.drained = true
		t.mu.Unlock()

		if dropped > 0 {
			util.Log(ctx).WithField("dropped", dropped).Debug("consent denied, pending events discarded")
		}
		if prev == consent.StateGranted {
			t.deliver(ctx, t.payloadFor("consent_updated", map[string]any{
				"analytics": record.Analytics,
			}))
		}

	default:
		t.mu.Unlock()
	}
}

// drain pushes the queued events through validation and delivery in FIFO
// order. All surviving payloads go out as one sequential worker task so the
// wire order matches the submission order.
func (t *Tracker) drain(ctx context.Context, queued []pendingEvent) {
	if len(queued) == 0 {
		return
	}

	payloads := make([]map[string]any, 0, len(queued))
	for _, ev := range queued {
		payload := t.payloadFor(ev.name, ev.properties)
		if err := t.schema.Validate(ev.name, payload); err != nil {
			util.Log(ctx).WithError(err).WithField("event", ev.name).Warn("dropping invalid queued event")
			continue
		}
		payloads = append(payloads, payload)
	}

	detached := context.WithoutCancel(ctx)
	err := t.pool.Submit(ctx, func() {
		for _, payload := range payloads {
			t.send(detached, payload)
		}
	})
	if err != nil {
		util.Log(ctx).WithError(err).Debug("could not schedule queue drain")
	}
}

// EndSession emits the terminal session_ended event, at most once per
// tracker. It only goes out when consent is granted.
func (t *Tracker) EndSession(ctx context.Context) {
	t.mu.Lock()
	if t.sessionEnded {
		t.mu.Unlock()
		return
	}
	t.sessionEnded = true
	granted := t.state == consent.StateGranted
	t.mu.Unlock()

	duration := time.Since(t.sess.StartedAt()).Milliseconds()

	if !granted {
		return
	}
	if duration < 0 {
		duration = 0
	}

	_ = t.validateAndDeliver(ctx, "session_ended", map[string]any{
		"duration_ms": duration,
		"ux_turns":    t.sess.Turns(),
	})
}

func (t *Tracker) validateAndDeliver(ctx context.Context, name string, properties map[string]any) error {
	payload := t.payloadFor(name, properties)
	if err := t.schema.Validate(name, payload); err != nil {
		util.Log(ctx).WithError(err).WithField("event", name).Warn("dropping invalid event")
		return err
	}

	t.deliver(ctx, payload)
	return nil
}

// payloadFor merges the event envelope with the caller's properties. Caller
// properties win on key collision.
func (t *Tracker) payloadFor(name string, properties map[string]any) map[string]any {
	payload := map[string]any{
		"persona":    t.cfg.GetPersona(),
		"event":      name,
		"timestamp":  time.Now().UTC().UnixMilli(),
		"session_id": t.sess.ID(),
	}
	for k, v := range properties {
		payload[k] = v
	}
	return payload
}

// deliver schedules one fire-and-forget send. The task runs on a detached
// context so a canceled caller cannot abort a send already accepted.
func (t *Tracker) deliver(ctx context.Context, payload map[string]any) {
	detached := context.WithoutCancel(ctx)
	err := t.pool.Submit(ctx, func() {
		t.send(detached, payload)
	})
	if err != nil {
		util.Log(ctx).WithError(err).Debug("could not schedule event delivery")
	}
}

// send performs the POST. Failures are logged and swallowed: no retry, no
// error surface, nothing visible to the user.
func (t *Tracker) send(ctx context.Context, payload map[string]any) {
	event, _ := payload["event"].(string)

	resp, err := t.invoker.Invoke(ctx, http.MethodPost, t.cfg.GetAnalyticsEndpoint(), payload, nil)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("event", event).Debug("event delivery failed")
	} else {
		if !resp.IsSuccess() {
			util.Log(ctx).WithField("event", event).
				WithField("status", resp.StatusCode).
				Debug("analytics endpoint rejected event")
		}
		_ = resp.Close()
	}

	if t.mirror != nil {
		t.mirror(ctx, event, payload)
	}
}
