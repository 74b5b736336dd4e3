package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	// MaxLabelLength is the maximum number of display characters a label may
	// contain after normalization.
	MaxLabelLength = 70

	// MinVolume and MaxVolume bound the Output/Mixin volume level.
	MinVolume = 0
	MaxVolume = 1000

	// MaxMixinDelay bounds the Mixin delay parameter.
	MaxMixinDelay = 30
)

var (
	// ErrLabelTooLong is returned when a normalized label exceeds MaxLabelLength.
	ErrLabelTooLong = errors.New("label exceeds maximum length")
	// ErrKeyInvalid is returned when a key is not a URL-path-safe slug.
	ErrKeyInvalid = errors.New("key must be a url-path-safe slug")
	// ErrVolumeOutOfRange is returned when a volume level falls outside [0,1000].
	ErrVolumeOutOfRange = errors.New("volume level out of range")
	// ErrDelayOutOfRange is returned when a mixin delay falls outside [0,30s].
	ErrDelayOutOfRange = errors.New("delay out of range")
	// ErrDstSchemeUnsupported is returned when an Output dst URL uses a scheme
	// other than rtmp, rtmps, icecast, or file.
	ErrDstSchemeUnsupported = errors.New("destination scheme not supported")
	// ErrMixinSchemeUnsupported is returned when a Mixin src URL uses a scheme
	// other than ts, http, or https.
	ErrMixinSchemeUnsupported = errors.New("mixin source scheme not supported")
)

// NormalizeLabel trims a label, collapses internal whitespace runs to a
// single space, applies NFC normalization so combining sequences count as
// the display characters they render as, and rejects anything over
// MaxLabelLength display characters.
func NormalizeLabel(label string) (string, error) {
	fields := strings.FieldsFunc(label, unicode.IsSpace)
	normalized := norm.NFC.String(strings.Join(fields, " "))
	if len([]rune(normalized)) > MaxLabelLength {
		return "", fmt.Errorf("%w: %d characters (max %d)", ErrLabelTooLong, len([]rune(normalized)), MaxLabelLength)
	}
	return normalized, nil
}

// ValidateKey checks that key is a non-empty, URL-path-safe slug: lowercase
// letters, digits, hyphens, and underscores only.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrKeyInvalid)
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("%w: %q", ErrKeyInvalid, key)
		}
	}
	return nil
}

// ClampVolume validates a volume level, returning ErrVolumeOutOfRange if it
// falls outside [MinVolume, MaxVolume].
func ClampVolume(level int) error {
	if level < MinVolume || level > MaxVolume {
		return fmt.Errorf("%w: %d", ErrVolumeOutOfRange, level)
	}
	return nil
}

// ValidateDelaySeconds validates a mixin delay expressed in seconds, returning
// ErrDelayOutOfRange if negative or greater than MaxMixinDelay.
func ValidateDelaySeconds(seconds float64) error {
	if seconds < 0 || seconds > MaxMixinDelay {
		return fmt.Errorf("%w: %.3fs", ErrDelayOutOfRange, seconds)
	}
	return nil
}

// dstSchemes enumerates the Output destination URL schemes the system
// accepts.
var dstSchemes = map[string]struct{}{
	"rtmp":    {},
	"rtmps":   {},
	"icecast": {},
	"file":    {},
}

// ValidateDst parses and validates an Output destination URL.
func ValidateDst(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse destination url: %w", err)
	}
	if _, ok := dstSchemes[strings.ToLower(parsed.Scheme)]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrDstSchemeUnsupported, parsed.Scheme)
	}
	return parsed, nil
}

// mixinSchemes enumerates the Mixin source URL schemes the system accepts.
var mixinSchemes = map[string]struct{}{
	"ts":    {},
	"http":  {},
	"https": {},
}

// ValidateMixinSrc parses and validates a Mixin source URL.
func ValidateMixinSrc(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse mixin source url: %w", err)
	}
	if _, ok := mixinSchemes[strings.ToLower(parsed.Scheme)]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrMixinSchemeUnsupported, parsed.Scheme)
	}
	return parsed, nil
}
