package locale

import (
	"context"
	"strings"

	"github.com/pitabwire/util"
)

// Store is the translation surface UI collaborators use. It never returns an
// error: any failure along the chain degrades to the default locale and
// finally to the raw key as display text.
type Store struct {
	loader        *Loader
	defaultLocale string
}

// NewStore wires a store over its loader.
func NewStore(loader *Loader, defaultLocale string) *Store {
	return &Store{
		loader:        loader,
		defaultLocale: strings.ToLower(defaultLocale),
	}
}

// DefaultLocale returns the locale used as the fallback for resolution.
func (s *Store) DefaultLocale() string {
	return s.defaultLocale
}

// Translate resolves key in the given locale, interpolating {name}
// placeholders from vars. Resolution order: requested locale, default locale,
// raw key. The only wait a caller can experience is one outstanding bundle
// fetch.
func (s *Store) Translate(ctx context.Context, key, localeCode string, vars map[string]any) string {
	if localeCode == "" {
		localeCode = s.defaultLocale
	}

	if text, ok := s.resolve(ctx, key, localeCode); ok {
		return Interpolate(text, vars)
	}

	if !strings.EqualFold(localeCode, s.defaultLocale) {
		if text, ok := s.resolve(ctx, key, s.defaultLocale); ok {
			return Interpolate(text, vars)
		}
	}

	util.Log(ctx).
		WithField("key", key).
		WithField("locale", localeCode).
		Warn("translation missing, serving raw key")

	return key
}

// resolve loads the locale's bundle and looks the key up. Load failures are
// logged here and reported as a plain miss so the caller walks its fallback
// chain.
func (s *Store) resolve(ctx context.Context, key, localeCode string) (string, bool) {
	bundle, err := s.loader.Load(ctx, localeCode)
	if err != nil {
		util.Log(ctx).WithError(err).
			WithField("locale", localeCode).
			Warn("could not load locale bundle")
		return "", false
	}

	return bundle.Lookup(key)
}
