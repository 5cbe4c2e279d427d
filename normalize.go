package piifield

import (
	"fmt"
	"strings"
)

// Normalizer transforms input strings into a canonical form before computing blind indexes.
// This enables case-insensitive or format-agnostic searches.
//
// IMPORTANT: Use the SAME normalizer on both write and search.
// Mixing normalizers breaks lookups. The registry pins one normalizer per field
// so that writes and lookups cannot diverge.
//
// None of the normalizers apply Unicode normalization (NFKC): full-width or
// decomposed variants of a value index differently from their canonical form.
type Normalizer func(string) string

// NormalizeDefault is the normalizer used when a field does not name one.
// Applies: trim whitespace + lowercase.
//
// Case variants collapse into one equivalence class on purpose: lookups such
// as email are case-insensitive, at the cost of the index not distinguishing
// "Smith" from "smith".
var NormalizeDefault Normalizer = func(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail normalizes email addresses for case-insensitive lookup.
// Applies: lowercase + trim whitespace.
//
// Example: " Alice@Example.COM " -> "alice@example.com"
var NormalizeEmail Normalizer = func(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeUsername normalizes usernames for case-insensitive lookup.
// Applies: lowercase + trim whitespace.
//
// Example: " JohnDoe " -> "johndoe"
var NormalizeUsername Normalizer = func(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone normalizes phone numbers by extracting ASCII digits only.
// Removes all non-digit characters (only keeps 0-9).
//
// Example: "(555) 123-4567" -> "5551234567"
// Example: "+1-555-123-4567" -> "15551234567"
var NormalizePhone Normalizer = func(s string) string {
	var digits strings.Builder
	digits.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String()
}

// NormalizeNone is an identity normalizer that returns the input unchanged.
// Use for exact-match (case-sensitive) searches.
var NormalizeNone Normalizer = func(s string) string {
	return s
}

// NormalizeTrim normalizes by trimming leading and trailing whitespace only.
// Preserves case.
var NormalizeTrim Normalizer = func(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeLower normalizes to lowercase only (no trim).
var NormalizeLower Normalizer = func(s string) string {
	return strings.ToLower(s)
}

var normalizersByName = map[string]Normalizer{
	"":         NormalizeDefault,
	"default":  NormalizeDefault,
	"email":    NormalizeEmail,
	"username": NormalizeUsername,
	"phone":    NormalizePhone,
	"none":     NormalizeNone,
	"trim":     NormalizeTrim,
	"lower":    NormalizeLower,
}

// NormalizerByName resolves the normalizer names accepted in registry files.
// An empty name selects NormalizeDefault.
func NormalizerByName(name string) (Normalizer, error) {
	norm, ok := normalizersByName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown normalizer %q", ErrInvalidRegistry, name)
	}
	return norm, nil
}
