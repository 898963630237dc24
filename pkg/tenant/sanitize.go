// Package tenant normalizes customer identifiers into values that are safe
// to use as keyword filters, routing keys and document id prefixes.
package tenant

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// KeySeparator joins the two parts of a composite key. Neither Sanitize nor
// Key emits it, so a key splits unambiguously at its first occurrence.
const KeySeparator = "_"

const escapeMark = '~'

// Sanitize returns raw in NFC form with the key separator and control
// characters replaced by '-'. Everything else is kept, so only ids that
// differ in those characters share a sanitized value. It is idempotent and
// maps non-empty input to non-empty output.
func Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	normalized := norm.NFC.String(raw)

	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if r == '_' || r == utf8.RuneError || unicode.IsControl(r) {
			b.WriteByte('-')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Normalize trims raw and returns it in NFC form. Two raw ids name the same
// tenant exactly when their normalized forms are equal.
func Normalize(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}

// Key returns Normalize(raw) with every rune other than a
// letter, digit, '-' or '.' written as '~' followed by the hex of its UTF-8
// bytes. Distinct normalized ids always get distinct keys, and the result is
// safe inside a document id or a cache key.
func Key(raw string) string {
	normalized := Normalize(raw)

	var b strings.Builder
	b.Grow(len(normalized))
	for i := 0; i < len(normalized); {
		r, size := utf8.DecodeRuneInString(normalized[i:])
		if r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.') {
			b.WriteString(normalized[i : i+size])
		} else {
			for _, c := range []byte(normalized[i : i+size]) {
				fmt.Fprintf(&b, "%c%02X", escapeMark, c)
			}
		}
		i += size
	}
	return b.String()
}

// CompositeKey builds the storage key of a tenant-scoped document.
func CompositeKey(tenantID, naturalID string) string {
	return Key(tenantID) + KeySeparator + Key(naturalID)
}

// SplitKey reverses CompositeKey into the two escaped parts.
func SplitKey(key string) (tenantKey, naturalKey string, ok bool) {
	return strings.Cut(key, KeySeparator)
}
