package locale

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/pitabwire/util"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/wrapline/wrapline-go/cache"
	"github.com/wrapline/wrapline-go/client"
	"github.com/wrapline/wrapline-go/config"
	"github.com/wrapline/wrapline-go/workerpool"
)

// Loader fetches locale bundles over HTTP and memoizes the result. Concurrent
// requests for the same locale share one in-flight fetch; a successful fetch
// stays cached for the process lifetime, a failed fetch leaves no trace so
// the next caller retries.
type Loader struct {
	cfg     config.ConfigurationLocalization
	invoker client.Manager
	bundles cache.Cache[string, Bundle]

	mu       sync.Mutex
	inflight *singleflight.Group

	supported map[string]struct{}
}

// NewLoader builds a loader over the given bundle cache. Supported locale
// codes are canonicalized once so lookups stay cheap.
func NewLoader(
	cfg config.ConfigurationLocalization,
	invoker client.Manager,
	bundles cache.Cache[string, Bundle],
) (*Loader, error) {
	supported := make(map[string]struct{})
	for _, code := range cfg.GetSupportedLocales() {
		tag, err := language.Parse(code)
		if err != nil {
			return nil, fmt.Errorf("unparseable supported locale %q: %w", code, err)
		}
		supported[strings.ToLower(tag.String())] = struct{}{}
	}

	return &Loader{
		cfg:       cfg,
		invoker:   invoker,
		bundles:   bundles,
		inflight:  &singleflight.Group{},
		supported: supported,
	}, nil
}

// Canonical validates a locale code against the supported set and returns its
// canonical form. The check is synchronous; no network is touched.
func (l *Loader) Canonical(code string) (string, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLocale, code)
	}

	canonical := strings.ToLower(tag.String())
	if _, ok := l.supported[canonical]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLocale, code)
	}
	return canonical, nil
}

// Load returns the bundle for the locale, fetching it at most once. A second
// caller arriving while the fetch is outstanding attaches to the same result.
func (l *Loader) Load(ctx context.Context, code string) (Bundle, error) {
	locale, err := l.Canonical(code)
	if err != nil {
		return nil, err
	}

	if bundle, found, cacheErr := l.bundles.Get(ctx, locale); cacheErr == nil && found {
		return bundle, nil
	}

	l.mu.Lock()
	group := l.inflight
	l.mu.Unlock()

	result, err, _ := group.Do(locale, func() (any, error) {
		// Re-check under the flight: a sibling caller may have already
		// populated the cache while we queued.
		if bundle, found, cacheErr := l.bundles.Get(ctx, locale); cacheErr == nil && found {
			return bundle, nil
		}

		bundle, fetchErr := l.fetch(ctx, locale)
		if fetchErr != nil {
			return nil, fetchErr
		}

		if setErr := l.bundles.Set(ctx, locale, bundle, 0); setErr != nil {
			util.Log(ctx).WithError(setErr).WithField("locale", locale).
				Warn("could not cache locale bundle")
		}
		return bundle, nil
	})
	if err != nil {
		return nil, err
	}

	bundle, ok := result.(Bundle)
	if !ok {
		return nil, ErrMalformedBundle
	}
	return bundle, nil
}

func (l *Loader) fetch(ctx context.Context, locale string) (Bundle, error) {
	endpoint := l.cfg.GetBundleEndpoint(locale)

	resp, err := l.invoker.Invoke(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBundleFetch, locale, err)
	}

	if !resp.IsSuccess() {
		_ = resp.Close()
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrBundleFetch, locale, resp.StatusCode)
	}

	var bundle Bundle
	if err = resp.Decode(ctx, &bundle); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedBundle, locale, err)
	}
	if bundle == nil {
		return nil, fmt.Errorf("%w: %s: empty body", ErrMalformedBundle, locale)
	}

	return bundle, nil
}

// Prefetch warms bundles for the given locales through the worker pool.
// Failures are logged; the guest never waits on a warmup.
func (l *Loader) Prefetch(ctx context.Context, pool workerpool.WorkerPool, locales ...string) {
	for _, code := range locales {
		job := workerpool.NewJob(func(jobCtx context.Context, _ workerpool.JobResultPipe[Bundle]) error {
			_, err := l.Load(jobCtx, code)
			return err
		})

		if err := workerpool.Run(ctx, pool, job); err != nil {
			util.Log(ctx).WithError(err).WithField("locale", code).
				Debug("could not schedule bundle prefetch")
			continue
		}

		go func(code string) {
			if res, ok := job.ReadResult(ctx); ok && res.IsError() {
				util.Log(ctx).WithError(res.Error()).WithField("locale", code).
					Debug("bundle prefetch failed")
			}
		}(code)
	}
}

// Clear drops every cached bundle and all in-flight markers. Test isolation
// and forced reloads only.
func (l *Loader) Clear(ctx context.Context) {
	l.mu.Lock()
	l.inflight = &singleflight.Group{}
	l.mu.Unlock()

	if err := l.bundles.Flush(ctx); err != nil {
		util.Log(ctx).WithError(err).Warn("could not flush bundle cache")
	}
}
