package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// UserCode returns the canonical form of a short user code: trimmed and
// upper-cased. Codes are stored upper-case so lookups stay case-insensitive.
func UserCode(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
