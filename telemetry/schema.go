// Package telemetry is the schema-validated, consent-gated analytics
// pipeline. Events submitted before a consent decision wait in a FIFO queue;
// the queue is drained exactly once on grant and discarded on denial.
package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEvent rejects names absent from the schema registry.
	ErrUnknownEvent = errors.New("unknown event name")

	// ErrMissingProperties rejects events whose merged payload lacks a
	// schema-required property.
	ErrMissingProperties = errors.New("event missing required properties")
)

// Schema maps an event name to the property names its payload must carry.
// The registry is a read-only static table; a name outside it is a
// validation failure, never a queueing scenario.
type Schema map[string][]string

// DefaultSchema describes the storefront's event vocabulary.
func DefaultSchema() Schema {
	return Schema{
		"page_viewed":      {"page"},
		"product_clicked":  {"sku_id"},
		"product_viewed":   {"sku_id"},
		"add_to_cart":      {"sku_id"},
		"search_performed": {"query"},
		"quiz_started":     {},
		"quiz_completed":   {"recommendation_count"},
		"checkout_started": {"cart_value"},
		"language_changed": {"locale"},
		"consent_updated":  {"analytics"},
		"session_ended":    {"duration_ms", "ux_turns"},
	}
}

// Validate checks that name is registered and that every required property is
// present in the merged payload.
func (s Schema) Validate(name string, payload map[string]any) error {
	required, ok := s[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}

	for _, prop := range required {
		if _, present := payload[prop]; !present {
			return fmt.Errorf("%w: %s needs %s", ErrMissingProperties, name, prop)
		}
	}

	return nil
}

// Knows reports whether name is part of the registry.
func (s Schema) Knows(name string) bool {
	_, ok := s[name]
	return ok
}
