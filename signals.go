package wrapline

import (
	"context"
	"errors"

	"github.com/pitabwire/util"
)

var errInvalidConfiguration = errors.New("configuration must be a *config.Configuration")

type languagePayload struct {
	Locale string `json:"locale"`
}

// languageChangedSignal switches the session language and warms the new
// locale's bundle when a language-changed signal arrives on the bus.
type languageChangedSignal struct {
	kit *Kit
}

func (s *languageChangedSignal) Name() string {
	return SignalLanguageChanged
}

func (s *languageChangedSignal) PayloadType() any {
	return &languagePayload{}
}

func (s *languageChangedSignal) Validate(_ context.Context, payload any) error {
	p, ok := payload.(*languagePayload)
	if !ok || p.Locale == "" {
		return errors.New("language-changed signal needs a locale")
	}

	_, err := s.kit.loader.Canonical(p.Locale)
	return err
}

func (s *languageChangedSignal) Execute(ctx context.Context, payload any) error {
	p := payload.(*languagePayload)

	previous := s.kit.sess.Language()
	s.kit.sess.SetLanguage(p.Locale)

	util.Log(ctx).
		WithField("from", previous).
		WithField("to", p.Locale).
		Debug("session language switched")

	s.kit.loader.Prefetch(ctx, s.kit.pool, p.Locale)

	// The language switch is itself a trackable interaction.
	_ = s.kit.tracker.Track(ctx, "language_changed", map[string]any{
		"locale":   p.Locale,
		"previous": previous,
	})

	return nil
}
