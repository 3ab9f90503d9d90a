package counterpart

import (
	"strings"
	"unicode"
)

// =============================================================================
// NORMALIZATION - Canonical keys for accounts and RUTs
// =============================================================================

// NormalizeAccountNumber canonicalizes a bank account number: uppercase,
// whitespace stripped, leading zeros stripped. A string of all zeros
// normalizes to "0", never to empty; empty input stays empty.
func NormalizeAccountNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	s := b.String()
	if s == "" {
		return ""
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// NormalizeRUT canonicalizes a Chilean RUT: dots, hyphens, and whitespace
// removed, verifier digit uppercased, leading zeros stripped. "12.345.678-k"
// and "12345678K" key the same counterpart.
func NormalizeRUT(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsSpace(r) || r == '.' || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	s := strings.TrimLeft(b.String(), "0")
	if s == "" && b.Len() > 0 {
		return "0"
	}
	return s
}
