// Package settings resolves effective scan settings from layered guild and
// channel overrides.
package settings

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
)

// Settings is a resolved effective-settings map. Values come from JSON and
// YAML layers, so collection values may appear as []any or []string.
type Settings map[string]any

// systemDefaults is the lowest-precedence layer. Every resolution starts
// from a fresh copy.
func systemDefaults() Settings {
	return Settings{
		"allowed_mime_types": []any{
			"video/mp4",
			"video/webm",
			"video/quicktime",
			"video/x-matroska",
			"video/x-msvideo",
			"video/x-flv",
		},
		"enable_message_content_storage": true,
	}
}

// merge overlays src onto dst, shallow, later keys winning.
func merge(dst Settings, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

// AllowedMIMETypes returns the permitted attachment content types as a set.
func (s Settings) AllowedMIMETypes() map[string]bool {
	out := map[string]bool{}
	switch v := s["allowed_mime_types"].(type) {
	case []any:
		for _, t := range v {
			if str, ok := t.(string); ok {
				out[str] = true
			}
		}
	case []string:
		for _, t := range v {
			out[t] = true
		}
	}
	return out
}

// MatchRegex compiles the optional content filter. A missing or empty key
// returns nil with no error.
func (s Settings) MatchRegex() (*regexp.Regexp, error) {
	pattern, ok := s["match_regex"].(string)
	if !ok || pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(`\A(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("compile match_regex: %w", err)
	}
	return re, nil
}

// ContentStorageEnabled reports whether message content should be persisted.
func (s Settings) ContentStorageEnabled() bool {
	if v, ok := s["enable_message_content_storage"].(bool); ok {
		return v
	}
	return true
}

// Hash fingerprints the resolved map. encoding/json writes map keys in
// sorted order, which gives the canonical rendering the fingerprint needs.
func (s Settings) Hash() string {
	data, err := json.Marshal(map[string]any(s))
	if err != nil {
		// Maps built from JSON and YAML layers always marshal.
		return ""
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
