package fiscal

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// genericPhrases is the boilerplate catalogue. An invoice description
// that folds down to one of these (or contains nothing beyond them) is
// not specific enough for F6 acceptance.
var genericPhrases = []string{
	"servicios profesionales",
	"servicios administrativos",
	"servicios de consultoria",
	"honorarios",
	"servicios varios",
	"pago de servicios",
	"prestacion de servicios",
	"servicios del mes",
	"asesoria",
	"gastos diversos",
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldDescription lower-cases and strips diacritics so that
// "Asesoría" and "asesoria" compare equal.
func foldDescription(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// IsSpecificDescription reports whether an invoice description is
// specific, i.e. not generic boilerplate. A description qualifies when,
// after folding, it is reasonably long and is not dominated by a known
// generic phrase.
func IsSpecificDescription(description string) bool {
	folded := foldDescription(description)
	if len(folded) < 25 {
		return false
	}
	for _, phrase := range genericPhrases {
		if folded == phrase {
			return false
		}
		// A generic phrase plus filler (month names, "diversos", periods)
		// is still generic.
		if strings.HasPrefix(folded, phrase) && len(folded)-len(phrase) < 15 {
			return false
		}
	}
	return true
}
