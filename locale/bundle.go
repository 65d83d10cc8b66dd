// Package locale resolves translation keys against remotely served bundles.
// A bundle is fetched at most once per locale for the lifetime of the process,
// and a missing translation is never an error the storefront guest can see:
// resolution falls back to the default locale and finally to the raw key.
package locale

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrUnsupportedLocale rejects a locale code before any network activity.
	ErrUnsupportedLocale = errors.New("locale is not supported")

	// ErrBundleFetch marks a bundle request that did not produce a usable body.
	ErrBundleFetch = errors.New("could not fetch locale bundle")

	// ErrMalformedBundle marks a bundle body that did not decode to a mapping.
	ErrMalformedBundle = errors.New("locale bundle payload is malformed")
)

// Bundle is the complete set of translated strings for one locale: a nested
// mapping of keys to strings. Once loaded it is never patched in place; a
// corrected bundle replaces the cache entry wholesale.
type Bundle map[string]any

// Lookup resolves a dotted key by descending through nested mappings. A flat
// entry whose key literally contains dots wins over nested descent.
func (b Bundle) Lookup(key string) (string, bool) {
	if v, ok := b[key]; ok {
		if s, sok := v.(string); sok {
			return s, true
		}
	}

	parts := strings.Split(key, ".")
	var current any = map[string]any(b)

	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = node[part]
		if !ok {
			return "", false
		}
	}

	s, ok := current.(string)
	return s, ok
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Interpolate substitutes {name} placeholders from vars. Placeholders with no
// matching variable stay verbatim in the output.
func Interpolate(text string, vars map[string]any) string {
	if len(vars) == 0 || !strings.Contains(text, "{") {
		return text
	}

	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := vars[name]
		if !ok {
			return match
		}
		return fmt.Sprintf("%v", v)
	})
}
