// Package normalize provides the canonicalizers applied to both sides of
// every lead comparison. All functions are deterministic and idempotent:
// f(f(x)) == f(x).
package normalize

import (
	"strings"
	"unicode"
)

// MinPhoneDigits is the minimum digit count for a phone number to serve as
// an exact-match key. Shorter values are still stored but never matched on.
const MinPhoneDigits = 10

// addressAbbreviations maps full address tokens to their canonical
// abbreviations. Replacement is whole-word only.
var addressAbbreviations = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"boulevard": "blvd",
	"drive":     "dr",
	"road":      "rd",
	"lane":      "ln",
	"court":     "ct",
	"apartment": "apt",
	"suite":     "ste",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
}

// Email canonicalizes an email address: trim and lowercase.
// Empty input stays empty.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Phone strips every non-digit character from a phone number.
func Phone(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneMatchKey returns the normalized phone if it is long enough to be a
// reliable exact-match key, otherwise "".
func PhoneMatchKey(s string) string {
	p := Phone(s)
	if len(p) < MinPhoneDigits {
		return ""
	}
	return p
}

// Address canonicalizes a street address: lowercase, trim, expand known
// full tokens to abbreviations, collapse runs of whitespace.
func Address(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	fields := strings.FieldsFunc(s, unicode.IsSpace)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		// CRM addresses carry comma separators; the token behind the
		// punctuation is what gets abbreviated.
		word := strings.TrimRight(f, ",.")
		if abbr, ok := addressAbbreviations[word]; ok {
			f = abbr + f[len(word):]
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}
