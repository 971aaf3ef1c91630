package normalize

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// connectorStopwords are the multilingual filler words dropped from
// comparison keys. Covers Portuguese, Spanish, English, French, Italian,
// German and Dutch connectives.
var connectorStopwords = map[string]struct{}{
	"de": {}, "do": {}, "da": {}, "dos": {}, "das": {},
	"the": {}, "and": {}, "of": {},
	"el": {}, "la": {}, "le": {}, "du": {}, "los": {}, "les": {}, "del": {},
	"y": {}, "e": {}, "o": {}, "a": {},
	"di": {}, "von": {}, "van": {}, "der": {},
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// stripAccents transliterates to plain ASCII letters by decomposing and
// dropping combining marks. Unmapped runes pass through untouched.
func stripAccents(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		return s
	}
	return out
}

// Key builds the canonical comparison key for a venue name: accents
// stripped, lowercased, punctuation collapsed, connector stopwords dropped,
// tokens sorted. Deterministic and word-order independent, so
// "Bar do Alemão" and "Alemão Bar" collapse to the same key.
func Key(name string) string {
	lowered := strings.ToLower(stripAccents(name))

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, stop := connectorStopwords[tok]; stop {
			continue
		}
		kept = append(kept, tok)
	}
	sort.Strings(kept)

	return strings.Join(kept, " ")
}
