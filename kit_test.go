package wrapline_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/require"

	"github.com/wrapline/wrapline-go"
	"github.com/wrapline/wrapline-go/config"
	"github.com/wrapline/wrapline-go/consent"
)

type storefront struct {
	server *httptest.Server

	mu     sync.Mutex
	events []map[string]any
}

// newStorefront fakes the two endpoints the kit talks to: locale bundles and
// the analytics collector.
func newStorefront(t *testing.T) *storefront {
	t.Helper()

	bundles := map[string]string{
		"en": `{"banner":{"title":"Find the perfect gift"},"quiz":{"progress":"Question {current} of {total}"}}`,
		"hi": `{"banner":{"title":"सही उपहार खोजें"}}`,
	}

	sf := &storefront{}
	sf.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/analytics":
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			sf.mu.Lock()
			sf.events = append(sf.events, payload)
			sf.mu.Unlock()
			w.WriteHeader(http.StatusAccepted)

		case strings.HasPrefix(r.URL.Path, "/locales/"):
			parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
			body, ok := "", false
			if len(parts) == 3 && parts[2] == "bundle.json" {
				body, ok = bundles[parts[1]]
			}
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(sf.server.Close)
	return sf
}

func (sf *storefront) eventNames() []string {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	var names []string
	for _, ev := range sf.events {
		name, _ := ev["event"].(string)
		names = append(names, name)
	}
	return names
}

func (sf *storefront) countOf(name string) int {
	n := 0
	for _, got := range sf.eventNames() {
		if got == name {
			n++
		}
	}
	return n
}

func testConfig(t *testing.T, sf *storefront) *config.Configuration {
	t.Helper()
	topic := "wrapline-test-" + xid.New().String()
	return &config.Configuration{
		LogLevel:                 "error",
		ServiceName:              "wrapline-test",
		APIBaseURL:               sf.server.URL,
		AnalyticsPath:            "/api/analytics",
		LocalesPath:              "/locales",
		Persona:                  "guest",
		DefaultLocale:            "en",
		SupportedLocales:         []string{"en", "hi"},
		BusURL:                   "mem://" + topic,
		SignalQueueName:          topic,
		WorkerPoolCapacity:       8,
		WorkerPoolExpiryDuration: "1s",
	}
}

func newTestKit(t *testing.T, opts ...wrapline.Option) (context.Context, *wrapline.Kit, *storefront) {
	t.Helper()
	sf := newStorefront(t)

	opts = append([]wrapline.Option{
		wrapline.WithConfig(testConfig(t, sf)),
		wrapline.WithConsentStore(consent.NewMemoryStore()),
	}, opts...)

	ctx, kit, err := wrapline.New(context.Background(), "wrapline-test", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { kit.Close(context.Background()) })
	return ctx, kit, sf
}

func TestKitTranslates(t *testing.T) {
	ctx, kit, _ := newTestKit(t)

	got := kit.T(ctx, "quiz.progress", map[string]any{"current": 1, "total": 3})
	require.Equal(t, "Question 1 of 3", got)

	require.Equal(t, "missing.key", kit.T(ctx, "missing.key", nil))
}

func TestKitQueuesUntilConsentThenDrains(t *testing.T) {
	ctx, kit, sf := newTestKit(t)

	require.NoError(t, kit.Track(ctx, "quiz_started", nil))
	require.NoError(t, kit.Track(ctx, "page_viewed", map[string]any{"page": "home"}))

	require.Nil(t, kit.GetConsent())
	require.Empty(t, sf.eventNames())

	record := kit.SetConsent(ctx, true)
	require.True(t, record.Analytics)
	require.NotNil(t, kit.GetConsent())

	require.Eventually(t, func() bool {
		names := sf.eventNames()
		return len(names) == 2 && names[0] == "quiz_started" && names[1] == "page_viewed"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestKitDenialStaysSilent(t *testing.T) {
	ctx, kit, sf := newTestKit(t)

	require.NoError(t, kit.Track(ctx, "quiz_started", nil))
	kit.SetConsent(ctx, false)
	require.NoError(t, kit.Track(ctx, "quiz_started", nil))

	time.Sleep(150 * time.Millisecond)
	require.Empty(t, sf.eventNames())
}

func TestKitLanguageChangeRoundTrip(t *testing.T) {
	ctx, kit, sf := newTestKit(t)
	kit.SetConsent(ctx, true)

	require.NoError(t, kit.SetLanguage(ctx, "hi"))

	require.Eventually(t, func() bool {
		return kit.Session().Language() == "hi"
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, "सही उपहार खोजें", kit.T(ctx, "banner.title", nil))

	require.Eventually(t, func() bool {
		return sf.countOf("language_changed") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.ErrorContains(t, kit.SetLanguage(ctx, "zz-nope"), "unsupported")
}

func TestKitCloseEmitsSessionEnded(t *testing.T) {
	ctx, kit, sf := newTestKit(t)
	kit.SetConsent(ctx, true)

	kit.Close(ctx)
	kit.Close(ctx)

	require.Equal(t, 1, sf.countOf("session_ended"))
}

func TestKitConsentSurvivesRestart(t *testing.T) {
	sf := newStorefront(t)
	dir := t.TempDir()

	cfg := testConfig(t, sf)
	cfg.ConsentDir = dir

	ctx, kit, err := wrapline.New(context.Background(), "wrapline-test", wrapline.WithConfig(cfg))
	require.NoError(t, err)
	kit.SetConsent(ctx, true)
	kit.Close(ctx)

	cfg2 := testConfig(t, sf)
	cfg2.ConsentDir = dir

	ctx2, kit2, err := wrapline.New(context.Background(), "wrapline-test", wrapline.WithConfig(cfg2))
	require.NoError(t, err)
	defer kit2.Close(ctx2)

	record := kit2.GetConsent()
	require.NotNil(t, record)
	require.True(t, record.Analytics)
}

func TestKitMarkerAnswersAcrossRestarts(t *testing.T) {
	sf := newStorefront(t)
	dir := t.TempDir()

	cfg := testConfig(t, sf)
	cfg.ConsentDir = dir

	ctx, kit, err := wrapline.New(context.Background(), "wrapline-test", wrapline.WithConfig(cfg))
	require.NoError(t, err)
	require.False(t, kit.HasDecided(ctx))

	kit.SetConsent(ctx, false)
	require.True(t, kit.HasDecided(ctx))
	kit.Close(ctx)

	// Losing the record leaves the marker behind; a fresh kit over the same
	// directory still knows the banner was answered before.
	require.NoError(t, os.Remove(filepath.Join(dir, "consent.json")))

	cfg2 := testConfig(t, sf)
	cfg2.ConsentDir = dir

	ctx2, kit2, err := wrapline.New(context.Background(), "wrapline-test", wrapline.WithConfig(cfg2))
	require.NoError(t, err)
	defer kit2.Close(ctx2)

	require.Nil(t, kit2.GetConsent())
	require.True(t, kit2.HasDecided(ctx2))
}

func TestKitInteractionDepthAccumulates(t *testing.T) {
	sf := newStorefront(t)
	dir := t.TempDir()

	cfg := testConfig(t, sf)
	cfg.ConsentDir = dir

	ctx, kit, err := wrapline.New(context.Background(), "wrapline-test", wrapline.WithConfig(cfg))
	require.NoError(t, err)
	require.EqualValues(t, 0, kit.InteractionDepth(ctx))

	require.NoError(t, kit.Track(ctx, "quiz_started", nil))
	require.NoError(t, kit.Track(ctx, "page_viewed", map[string]any{"page": "home"}))
	require.EqualValues(t, 2, kit.InteractionDepth(ctx))
	kit.Close(ctx)

	cfg2 := testConfig(t, sf)
	cfg2.ConsentDir = dir

	ctx2, kit2, err := wrapline.New(context.Background(), "wrapline-test", wrapline.WithConfig(cfg2))
	require.NoError(t, err)
	defer kit2.Close(ctx2)

	require.NoError(t, kit2.Track(ctx2, "quiz_started", nil))
	require.EqualValues(t, 3, kit2.InteractionDepth(ctx2), "depth accumulates across restarts")
}

func TestKitTravelsOnContext(t *testing.T) {
	ctx, kit, _ := newTestKit(t)

	require.Same(t, kit, wrapline.FromContext(ctx))
	require.Nil(t, wrapline.FromContext(context.Background()))
}
