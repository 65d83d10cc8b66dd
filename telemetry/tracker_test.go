package telemetry_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/wrapline/wrapline-go/client"
	"github.com/wrapline/wrapline-go/consent"
	"github.com/wrapline/wrapline-go/session"
	"github.com/wrapline/wrapline-go/telemetry"
	"github.com/wrapline/wrapline-go/workerpool"
)

type analyticsConfig struct {
	persona  string
	endpoint string
}

func (c *analyticsConfig) GetPersona() string           { return c.persona }
func (c *analyticsConfig) GetAnalyticsEndpoint() string { return c.endpoint }

type consentConfig struct{}

func (consentConfig) GetConsentDir() string              { return "" }
func (consentConfig) GetConsentMarkerTTL() time.Duration { return time.Hour }

// TrackerTestSuite exercises queueing, drain, schema validation and the
// terminal session event against a recording analytics endpoint.
type TrackerTestSuite struct {
	suite.Suite

	server *httptest.Server

	mu       sync.Mutex
	received []map[string]any

	gate    *consent.Gate
	tracker *telemetry.Tracker
	sess    *session.Session
	pool    workerpool.WorkerPool
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, &TrackerTestSuite{})
}

func (s *TrackerTestSuite) SetupTest() {
	s.received = nil

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.received = append(s.received, payload)
		s.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))

	ctx := context.Background()

	var err error
	s.pool, err = workerpool.NewPool(ctx, workerpool.WithCapacity(4))
	s.Require().NoError(err)

	s.gate = consent.NewGate(consentConfig{}, consent.NewMemoryStore(), nil)
	s.sess = session.New("en")

	cfg := &analyticsConfig{persona: "guest", endpoint: s.server.URL + "/api/analytics"}
	s.tracker = telemetry.NewTracker(
		cfg, telemetry.DefaultSchema(), client.NewManager(ctx), s.pool, s.gate, s.sess, nil)
}

func (s *TrackerTestSuite) TearDownTest() {
	s.pool.Shutdown()
	s.server.Close()
}

func (s *TrackerTestSuite) delivered() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.received))
	copy(out, s.received)
	return out
}

func (s *TrackerTestSuite) eventNames() []string {
	var names []string
	for _, payload := range s.delivered() {
		name, _ := payload["event"].(string)
		names = append(names, name)
	}
	return names
}

func (s *TrackerTestSuite) waitForDeliveries(n int) {
	s.Require().Eventually(func() bool {
		return len(s.delivered()) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *TrackerTestSuite) TestDrainPreservesSubmissionOrder() {
	ctx := context.Background()

	s.Require().NoError(s.tracker.Track(ctx, "quiz_started", nil))
	s.Require().NoError(s.tracker.Track(ctx, "search_performed", map[string]any{"query": "mugs"}))
	s.Require().NoError(s.tracker.Track(ctx, "product_clicked", map[string]any{"sku_id": "WL-041"}))

	s.Require().Empty(s.delivered(), "nothing leaves before a decision")

	s.gate.Decide(ctx, true)

	s.waitForDeliveries(3)
	s.Require().Equal([]string{"quiz_started", "search_performed", "product_clicked"}, s.eventNames())
}

func (s *TrackerTestSuite) TestPayloadEnvelope() {
	ctx := context.Background()
	s.gate.Decide(ctx, true)

	s.Require().NoError(s.tracker.Track(ctx, "page_viewed", map[string]any{"page": "home"}))

	s.waitForDeliveries(1)
	payload := s.delivered()[0]
	s.Require().Equal("guest", payload["persona"])
	s.Require().Equal(s.sess.ID(), payload["session_id"])
	s.Require().Equal("home", payload["page"])
	s.Require().Contains(payload, "timestamp")
}

func (s *TrackerTestSuite) TestSchemaGateBlocksIncompleteEvents() {
	ctx := context.Background()
	s.gate.Decide(ctx, true)

	err := s.tracker.Track(ctx, "product_clicked", map[string]any{})
	s.Require().ErrorIs(err, telemetry.ErrMissingProperties)

	time.Sleep(100 * time.Millisecond)
	s.Require().Empty(s.delivered())
}

func (s *TrackerTestSuite) TestUnknownEventDroppedInEveryState() {
	ctx := context.Background()

	err := s.tracker.Track(ctx, "totally_made_up", nil)
	s.Require().ErrorIs(err, telemetry.ErrUnknownEvent)

	s.gate.Decide(ctx, true)
	err = s.tracker.Track(ctx, "totally_made_up", nil)
	s.Require().ErrorIs(err, telemetry.ErrUnknownEvent)

	time.Sleep(100 * time.Millisecond)
	s.Require().Empty(s.delivered(), "unknown events are never queued or delivered")
}

func (s *TrackerTestSuite) TestInvalidQueuedEventDroppedAtDrain() {
	ctx := context.Background()

	s.Require().NoError(s.tracker.Track(ctx, "product_clicked", nil)) // missing sku_id
	s.Require().NoError(s.tracker.Track(ctx, "page_viewed", map[string]any{"page": "quiz"}))

	s.gate.Decide(ctx, true)

	s.waitForDeliveries(1)
	s.Require().Equal([]string{"page_viewed"}, s.eventNames())
}

func (s *TrackerTestSuite) TestDenialClearsQueueSilently() {
	ctx := context.Background()

	s.Require().NoError(s.tracker.Track(ctx, "quiz_started", nil))
	s.Require().NoError(s.tracker.Track(ctx, "page_viewed", map[string]any{"page": "home"}))

	s.gate.Decide(ctx, false)

	time.Sleep(100 * time.Millisecond)
	s.Require().Empty(s.delivered())

	// After the denial tracking is a silent no-op.
	s.Require().NoError(s.tracker.Track(ctx, "quiz_started", nil))
	time.Sleep(100 * time.Millisecond)
	s.Require().Empty(s.delivered())
}

func (s *TrackerTestSuite) TestGrantThenDenyEmitsFinalConsentUpdate() {
	ctx := context.Background()

	s.gate.Decide(ctx, true)
	s.gate.Decide(ctx, false)

	s.waitForDeliveries(1)
	payload := s.delivered()[0]
	s.Require().Equal("consent_updated", payload["event"])
	s.Require().Equal(false, payload["analytics"])
}

func (s *TrackerTestSuite) TestDrainHappensOnceAcrossRepeatedGrants() {
	ctx := context.Background()

	s.Require().NoError(s.tracker.Track(ctx, "quiz_started", nil))

	s.gate.Decide(ctx, true)
	s.gate.Decide(ctx, true)

	s.waitForDeliveries(1)
	time.Sleep(100 * time.Millisecond)
	s.Require().Equal([]string{"quiz_started"}, s.eventNames())
}

func (s *TrackerTestSuite) TestEndSessionEmitsExactlyOnce() {
	ctx := context.Background()
	s.gate.Decide(ctx, true)

	s.sess.IncrementTurn()
	s.sess.IncrementTurn()

	s.tracker.EndSession(ctx)
	s.tracker.EndSession(ctx)

	s.waitForDeliveries(1)
	time.Sleep(100 * time.Millisecond)

	payloads := s.delivered()
	s.Require().Len(payloads, 1)
	s.Require().Equal("session_ended", payloads[0]["event"])
	s.Require().GreaterOrEqual(payloads[0]["duration_ms"], float64(0))
	s.Require().Equal(float64(2), payloads[0]["ux_turns"])
}

func (s *TrackerTestSuite) TestEndSessionSilentWithoutGrant() {
	ctx := context.Background()

	s.tracker.EndSession(ctx)

	time.Sleep(100 * time.Millisecond)
	s.Require().Empty(s.delivered())
}

func (s *TrackerTestSuite) TestMirrorSeesDeliveredPayloads() {
	ctx := context.Background()

	var mirrored []string
	var mu sync.Mutex
	mirror := func(_ context.Context, event string, _ map[string]any) {
		mu.Lock()
		mirrored = append(mirrored, event)
		mu.Unlock()
	}

	cfg := &analyticsConfig{persona: "guest", endpoint: s.server.URL + "/api/analytics"}
	tracker := telemetry.NewTracker(
		cfg, telemetry.DefaultSchema(), client.NewManager(ctx), s.pool, s.gate, s.sess, mirror)

	s.gate.Decide(ctx, true)
	s.Require().NoError(tracker.Track(ctx, "page_viewed", map[string]any{"page": "home"}))

	s.Require().Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(mirrored) == 1 && mirrored[0] == "page_viewed"
	}, 2*time.Second, 10*time.Millisecond)
}
