package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlnum = regexp.MustCompile("[^a-z0-9]+")

// Slugify creates a slug from the given string.
func Slugify(s string) string {
	s = strings.ToLower(s)

	// Remove accents
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, _ = transform.String(t, s)

	s = nonAlnum.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// Normalize removes NULL bytes and trims the string.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}

// SplitValues splits a tab separated panel answer, optionally dropping spaces
// inside each field.
func SplitValues(s string, compact bool) []string {
	fields := strings.Split(s, "\t")
	for i, f := range fields {
		if compact {
			fields[i] = strings.ReplaceAll(f, " ", "")
		} else {
			fields[i] = Normalize(f)
		}
	}
	return fields
}
