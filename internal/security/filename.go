// Package security holds helpers for turning operator-supplied strings into
// values that are safe to embed in file system paths.
package security

import "strings"

// maxIdentifierLen bounds identifiers embedded in file names.
const maxIdentifierLen = 64

// SanitizeIdentifier makes s safe to use as a file name prefix. Runs of
// characters other than ASCII letters, digits, dot, underscore and dash
// become a single dash, and leading or trailing separators are trimmed.
// An identifier with nothing usable left returns fallback.
func SanitizeIdentifier(s, fallback string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.TrimSpace(s) {
		if b.Len() >= maxIdentifierLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	out := strings.Trim(b.String(), ".-_")
	if out == "" {
		return fallback
	}
	return out
}
