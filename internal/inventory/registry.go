package inventory

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Material names arrive as free text from site forms, so "Cemento Gris",
// "cemento gris" and "Cémento  gris" must resolve to one registry entry.
// The canonical key is lowercase, accent-folded, single-spaced.

var accentFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var lowerCaser = cases.Lower(language.Und)

// NormalizeName returns the canonical registry key for a material name.
func NormalizeName(name string) string {
	folded, _, err := transform.String(accentFold, name)
	if err != nil {
		folded = name
	}
	folded = lowerCaser.String(folded)
	return strings.Join(strings.Fields(folded), " ")
}
