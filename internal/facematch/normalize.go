package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// FoldName normalizes a name or roll number for search: no diacritics,
// lowercase, dashes and repeated whitespace collapsed to single spaces.
func FoldName(s string) string {
	s = strings.ToLower(RemoveDiacritics(s))
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), " ")
}

// MatchesSearch reports whether query occurs in the student's name or roll number.
// An empty query matches everything.
func MatchesSearch(query, name, roll string) bool {
	q := FoldName(query)
	if q == "" {
		return true
	}
	return strings.Contains(FoldName(name), q) || strings.Contains(FoldName(roll), q)
}
