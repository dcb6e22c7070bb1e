package intent

import "strings"

// Normalize canonicalizes raw text for matching: lower-cased, trimmed, with
// internal whitespace runs collapsed to single spaces. Total; never fails.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
