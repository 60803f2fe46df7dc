// Package normalize implements the deterministic text normalization shared by
// query preprocessing and the authority tables' stored norm_label columns.
//
// Normalization is: trim, collapse internal whitespace to single spaces,
// lowercase (locale-independent), and fold accents by Unicode NFD
// decomposition followed by combining-mark removal. The same function is
// used on both sides of a comparison — the stored label and the incoming
// mention — so trigram matching never has to reconcile differing notions of
// "the same text".
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// accentFold strips combining marks left behind by NFD decomposition,
// folding é→e, ü→u, and so on. A transform.Chain keeps internal state, so a
// fresh chain is built for every call rather than shared between goroutines.
func accentFold() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Text applies the normalization pipeline to s: trim, fold accents,
// lowercase, then collapse runs of whitespace to a single space.
//
// Text is total and side-effect free — it never fails and never panics.
// An empty or whitespace-only input returns "".
func Text(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	folded, _, err := transform.String(accentFold(), s)
	if err != nil {
		// transform.String only fails on malformed input the Remove filter
		// cannot consume; fall back to the untransformed string rather than
		// losing the mention entirely.
		folded = s
	}

	folded = strings.ToLower(folded)
	return collapseSpace(folded)
}

// collapseSpace replaces every run of Unicode whitespace with a single
// ASCII space and trims the result.
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastWasSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastWasSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			lastWasSpace = true
			continue
		}
		b.WriteRune(r)
		lastWasSpace = false
	}
	return strings.TrimRight(b.String(), " ")
}

// MaxQueryRunes bounds how many runes of a query are used by the trigram
// channel for matching. Longer mentions are truncated for the lexical
// comparison but are passed to the embedding client in full.
const MaxQueryRunes = 256

// TruncateForMatch truncates s to at most [MaxQueryRunes] runes, measured in
// runes (not bytes) so multi-byte characters are never split.
func TruncateForMatch(s string) string {
	if len([]rune(s)) <= MaxQueryRunes {
		return s
	}
	r := []rune(s)
	return string(r[:MaxQueryRunes])
}
