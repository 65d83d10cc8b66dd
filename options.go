package wrapline

import (
	"context"

	"github.com/pitabwire/util"

	"github.com/wrapline/wrapline-go/client"
	"github.com/wrapline/wrapline-go/config"
	"github.com/wrapline/wrapline-go/consent"
)

// WithConfig supplies a pre-built configuration instead of reading the
// environment.
func WithConfig(cfg *config.Configuration) Option {
	return func(_ context.Context, k *Kit) {
		k.configuration = cfg
	}
}

// WithLogger replaces the kit logger built from configuration.
func WithLogger(opts ...util.Option) Option {
	return func(ctx context.Context, k *Kit) {
		log := util.NewLogger(ctx, opts...)
		k.logger = log.WithField("kit", k.name)
	}
}

// WithHTTPOptions tunes the HTTP client behind bundle fetches and analytics
// delivery.
func WithHTTPOptions(opts ...client.HTTPOption) Option {
	return func(_ context.Context, k *Kit) {
		k.httpOpts = append(k.httpOpts, opts...)
	}
}

// WithConsentStore replaces the default file-backed consent store, e.g. with
// consent.NewMemoryStore() for hosts that must not persist decisions.
func WithConsentStore(store consent.Store) Option {
	return func(_ context.Context, k *Kit) {
		k.consentStore = store
	}
}
