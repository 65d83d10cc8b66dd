// Package wrapline is the embeddable client core of the Wrapline storefront.
// A Kit wires localization, consent and telemetry into one explicitly owned
// object the host page constructs once and passes to its UI collaborators.
package wrapline

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/pitabwire/util"

	"github.com/wrapline/wrapline-go/bus"
	"github.com/wrapline/wrapline-go/cache"
	"github.com/wrapline/wrapline-go/client"
	"github.com/wrapline/wrapline-go/config"
	"github.com/wrapline/wrapline-go/consent"
	"github.com/wrapline/wrapline-go/locale"
	"github.com/wrapline/wrapline-go/session"
	"github.com/wrapline/wrapline-go/telemetry"
	"github.com/wrapline/wrapline-go/workerpool"
)

type contextKey string

func (c contextKey) String() string {
	return "wrapline/" + string(c)
}

const ctxKeyKit = contextKey("kitKey")

const (
	cacheNameBundles = "locale-bundles"
	cacheNameMarkers = "consent-markers"

	// turnCounterKey is the markers-cache key the interaction depth counter
	// lives under; with a file-backed cache it accumulates across restarts.
	turnCounterKey = "session-turns"

	// SignalLanguageChanged carries a new locale code; the kit re-resolves
	// the session language and warms the bundle when it arrives.
	SignalLanguageChanged = "language-changed"

	// SignalConsentChanged is published on every explicit consent decision.
	SignalConsentChanged = "consent-changed"

	// SignalAnalyticsPrefix prefixes the observability mirror of every
	// delivered analytics event.
	SignalAnalyticsPrefix = "analytics."
)

// Kit holds together all client core components. An instance of this type is
// scoped to one page lifetime. It is pushed and pulled from contexts to make
// it easy to pass around.
type Kit struct {
	name   string
	logger *util.LogEntry

	configuration any

	pool    workerpool.WorkerPool
	busMgr  bus.Manager
	signals bus.Registry
	caches  cache.Manager
	invoker client.Manager

	consentStore consent.Store
	gate         *consent.Gate
	sess         *session.Session
	tracker      *telemetry.Tracker
	loader       *locale.Loader
	translations *locale.Store

	httpOpts []client.HTTPOption
	stopOnce sync.Once
}

// Option configures a Kit before its components are wired.
type Option func(ctx context.Context, k *Kit)

// New creates a Kit with the name and supplied options, wiring components in
// dependency order: configuration, logger, worker pool, bus, consent, session,
// tracker, locale loader. The returned context carries both the Kit and its
// configuration.
func New(ctx context.Context, name string, opts ...Option) (context.Context, *Kit, error) {
	k := &Kit{
		name: name,
	}

	for _, opt := range opts {
		opt(ctx, k)
	}

	if k.configuration == nil {
		cfg, err := config.FromEnv[config.Configuration]()
		if err != nil {
			return ctx, nil, err
		}
		k.configuration = &cfg
	}
	cfg, ok := k.configuration.(*config.Configuration)
	if !ok {
		return ctx, nil, errInvalidConfiguration
	}
	ctx = config.ToContext(ctx, cfg)

	if k.logger == nil {
		k.setupLogger(ctx, cfg)
	}
	ctx = util.ContextWithLogger(ctx, k.logger)

	if err := k.setupPool(ctx, cfg); err != nil {
		return ctx, nil, err
	}

	if err := k.setupBus(ctx, cfg); err != nil {
		k.pool.Shutdown()
		return ctx, nil, err
	}

	k.caches = cache.NewManager()
	k.caches.AddCache(cacheNameBundles, cache.NewInMemoryCache())

	k.invoker = client.NewManager(ctx, k.httpOpts...)

	if err := k.setupConsent(ctx, cfg); err != nil {
		k.teardown(ctx)
		return ctx, nil, err
	}

	k.sess = session.New(cfg.GetDefaultLocale())

	k.tracker = telemetry.NewTracker(
		cfg, telemetry.DefaultSchema(), k.invoker, k.pool, k.gate, k.sess, k.mirrorSignal)

	if err := k.setupLocale(cfg); err != nil {
		k.teardown(ctx)
		return ctx, nil, err
	}

	k.signals.Add(&languageChangedSignal{kit: k})

	return ToContext(ctx, k), k, nil
}

func (k *Kit) setupLogger(ctx context.Context, cfg config.ConfigurationLogLevel) {
	logOpts := []util.Option{
		util.WithLogTimeFormat(cfg.LoggingTimeFormat()),
		util.WithLogNoColor(!cfg.LoggingColored()),
	}
	if level, err := util.ParseLevel(cfg.LoggingLevel()); err == nil {
		logOpts = append(logOpts, util.WithLogLevel(level))
	}
	if cfg.LoggingShowStackTrace() {
		logOpts = append(logOpts, util.WithLogStackTrace())
	}

	log := util.NewLogger(ctx, logOpts...)
	k.logger = log.WithField("kit", k.name)
}

func (k *Kit) setupPool(ctx context.Context, cfg config.ConfigurationWorkerPool) error {
	poolOpts := workerpool.DefaultOptions(cfg, k.logger)

	pool, err := workerpool.NewPool(ctx,
		workerpool.WithCapacity(poolOpts.Capacity),
		workerpool.WithConcurrency(poolOpts.Concurrency),
		workerpool.WithExpiryDuration(poolOpts.ExpiryDuration),
		workerpool.WithLogger(k.logger),
	)
	if err != nil {
		return err
	}

	k.pool = pool
	return nil
}

// setupBus opens the signal topic and its in-process subscription. The
// publisher must exist before the subscription for the in-memory driver.
func (k *Kit) setupBus(ctx context.Context, cfg config.ConfigurationBus) error {
	k.busMgr = bus.NewManager()

	queueRef := cfg.GetSignalQueueName()
	if err := k.busMgr.AddPublisher(ctx, queueRef, cfg.GetBusURL()); err != nil {
		return err
	}

	k.signals = bus.NewRegistry(k.busMgr, queueRef)

	return k.busMgr.AddSubscriber(ctx, queueRef, cfg.GetBusURL(), k.signals.Handler())
}

// setupConsent wires the store, the marker cache and the gate. When the kit
// owns a file-backed store, the marker cache is file-backed too, rooted next
// to the record, so the has-decided marker outlives the process. An injected
// store gets an in-memory marker cache instead; its durability is the
// injector's concern.
func (k *Kit) setupConsent(ctx context.Context, cfg config.ConfigurationConsent) error {
	var markers cache.RawCache

	if k.consentStore == nil {
		dir, err := consent.ResolveDir(cfg.GetConsentDir())
		if err != nil {
			return err
		}
		store, err := consent.NewFileStore(dir)
		if err != nil {
			return err
		}
		k.consentStore = store

		if markers, err = cache.NewFileCache(filepath.Join(dir, "markers")); err != nil {
			return err
		}
	} else {
		markers = cache.NewInMemoryCache()
	}

	k.caches.AddCache(cacheNameMarkers, markers)
	k.gate = consent.NewGate(cfg, k.consentStore, markers)
	k.gate.Bootstrap(ctx)
	return nil
}

func (k *Kit) setupLocale(cfg config.ConfigurationLocalization) error {
	raw, _ := k.caches.GetRawCache(cacheNameBundles)
	bundles := cache.NewGenericCache[string, locale.Bundle](raw, nil)

	loader, err := locale.NewLoader(cfg, k.invoker, bundles)
	if err != nil {
		return err
	}

	k.loader = loader
	k.translations = locale.NewStore(loader, cfg.GetDefaultLocale())
	return nil
}

// mirrorSignal republishes a delivered analytics payload on the bus so
// host-page observers can watch the stream.
func (k *Kit) mirrorSignal(ctx context.Context, event string, payload map[string]any) {
	_ = k.signals.Emit(ctx, SignalAnalyticsPrefix+event, payload)
}

// Name returns the name the kit was constructed with.
func (k *Kit) Name() string {
	return k.name
}

// Log returns the kit logger bound to the given context.
func (k *Kit) Log(ctx context.Context) *util.LogEntry {
	return k.logger.WithContext(ctx)
}

// Config returns the configuration the kit was built from.
func (k *Kit) Config() any {
	return k.configuration
}

// Session returns the per-visit session state.
func (k *Kit) Session() *session.Session {
	return k.sess
}

// Consent exposes the consent gate for host pages that render their own
// banner flows and need to subscribe directly.
func (k *Kit) Consent() *consent.Gate {
	return k.gate
}

// Loader exposes the locale loader for prefetching.
func (k *Kit) Loader() *locale.Loader {
	return k.loader
}

// Signals exposes the kit's bus registry so host pages can register their own
// signal handlers alongside the built-in ones.
func (k *Kit) Signals() bus.Registry {
	return k.signals
}

// T resolves a translation key in the session's current language,
// interpolating placeholders from vars. It never fails: missing translations
// degrade to the default locale and finally to the key itself.
func (k *Kit) T(ctx context.Context, key string, vars map[string]any) string {
	return k.translations.Translate(ctx, key, k.sess.Language(), vars)
}

// TIn is T with an explicit locale, for collaborators rendering outside the
// session language.
func (k *Kit) TIn(ctx context.Context, key, localeCode string, vars map[string]any) string {
	return k.translations.Translate(ctx, key, localeCode, vars)
}

// Track submits one analytics event. The returned error reports validation
// failures to developers; delivery itself is fire-and-forget.
func (k *Kit) Track(ctx context.Context, name string, properties map[string]any) error {
	turns := k.sess.IncrementTurn()
	if markers, ok := k.caches.GetRawCache(cacheNameMarkers); ok {
		// Coarse interaction depth rides along with the consent marker store;
		// InteractionDepth reads it back.
		if _, err := markers.Increment(ctx, turnCounterKey, 1); err != nil {
			util.Log(ctx).WithError(err).WithField("turns", turns).Debug("could not record turn counter")
		}
	}
	return k.tracker.Track(ctx, name, properties)
}

// InteractionDepth returns the install's accumulated Track count from the
// marker store. With the default file-backed store it spans restarts; with an
// injected store it covers the backing cache's lifetime.
func (k *Kit) InteractionDepth(ctx context.Context) int64 {
	markers, ok := k.caches.GetRawCache(cacheNameMarkers)
	if !ok {
		return 0
	}

	// A zero delta reads the counter without changing it.
	depth, err := markers.Increment(ctx, turnCounterKey, 0)
	if err != nil {
		util.Log(ctx).WithError(err).Debug("could not read turn counter")
		return 0
	}
	return depth
}

// HasDecided reports whether this install has ever answered the consent
// banner, in this session or a previous one. Host pages use it to skip the
// banner without loading the full decision record.
func (k *Kit) HasDecided(ctx context.Context) bool {
	return k.gate.HasDecided(ctx)
}

// SetConsent records an explicit consent decision, transitions the gate and
// publishes a consent-changed signal on the bus.
func (k *Kit) SetConsent(ctx context.Context, analyticsGranted bool) consent.Record {
	record := k.gate.Decide(ctx, analyticsGranted)
	_ = k.signals.Emit(ctx, SignalConsentChanged, record)
	return record
}

// GetConsent returns the current decision record, or nil while the gate is
// still undetermined.
func (k *Kit) GetConsent() *consent.Record {
	record, ok := k.gate.Current()
	if !ok {
		return nil
	}
	return &record
}

// SetLanguage publishes a language-changed signal; the kit's own handler
// switches the session language and warms the new bundle.
func (k *Kit) SetLanguage(ctx context.Context, localeCode string) error {
	canonical, err := k.loader.Canonical(localeCode)
	if err != nil {
		return err
	}
	return k.signals.Emit(ctx, SignalLanguageChanged, languagePayload{Locale: canonical})
}

// EndSession emits the terminal session_ended event. Safe to call more than
// once; only the first call emits.
func (k *Kit) EndSession(ctx context.Context) {
	k.tracker.EndSession(ctx)
}

// Close ends the session if the host page has not already done so, drains
// in-flight deliveries, and releases the bus, pool and caches. Idempotent.
func (k *Kit) Close(ctx context.Context) {
	k.stopOnce.Do(func() {
		k.teardown(ctx)
	})
}

func (k *Kit) teardown(ctx context.Context) {
	if k.tracker != nil {
		k.tracker.EndSession(ctx)
	}

	if k.pool != nil {
		if err := k.pool.ShutdownWithDrain(5 * time.Second); err != nil {
			util.Log(ctx).WithError(err).Debug("worker pool did not drain cleanly")
		}
	}

	if k.busMgr != nil {
		if err := k.busMgr.Stop(ctx); err != nil {
			util.Log(ctx).WithError(err).Debug("bus shutdown reported an error")
		}
	}

	if k.caches != nil {
		if err := k.caches.Close(); err != nil {
			util.Log(ctx).WithError(err).Debug("cache shutdown reported an error")
		}
	}
}

// ToContext adds the kit to the supplied context.
func ToContext(ctx context.Context, k *Kit) context.Context {
	return context.WithValue(ctx, ctxKeyKit, k)
}

// FromContext extracts the kit from the supplied context, if any exists.
func FromContext(ctx context.Context) *Kit {
	k, ok := ctx.Value(ctxKeyKit).(*Kit)
	if !ok {
		return nil
	}
	return k
}
