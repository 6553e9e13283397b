package dedup

import (
	"regexp"
	"strings"
)

// The normalization pipeline below is ordered: each stage assumes the output
// of the previous one. The whole pipeline is idempotent.
var (
	yearParenRe = regexp.MustCompile(`\(\s*\d{4}\s*\)`)

	formatMarkerRe = regexp.MustCompile(`(?i)\(\s*(tv series|movie|film|book|anime|series|show|tv(\s+[^)]*)?)\s*\)`)

	regionMarkerRe = regexp.MustCompile(`(?i)\(\s*(us|uk|japanese|english|dub|sub|original)\s*\)`)

	regionSuffixRe = regexp.MustCompile(`(?i)\b(us|uk|japanese|english|dub|sub|original)\s+(version|release)\b`)

	episodeRe = regexp.MustCompile(`(?i)\b(s\d+\s*e\d+|season\s+\d+|ep\.?\s*\d+|episode\s+\d+).*$`)

	editionRe = regexp.MustCompile(`(?i)\b(remastered|director'?s\s+cut|extended|revised|special|limited|ultimate|complete|definitive)(\s+(edition|cut|version))?\b`)

	promoSuffixRe = regexp.MustCompile(`(?i)[\s\-:|]*\b(official\s+)?(trailer|teaser|tv\s+spot|clip|behind\s+the\s+scenes|making\s+of)\b.*$`)

	punctRe = regexp.MustCompile(`[^a-z0-9 ]+`)
)

// NormalizeTitle reduces an entity display name to its canonical comparison
// form. Idempotent: NormalizeTitle(NormalizeTitle(s)) == NormalizeTitle(s).
func NormalizeTitle(name string) string {
	if name == "" {
		return ""
	}
	t := name

	t = yearParenRe.ReplaceAllString(t, " ")
	t = formatMarkerRe.ReplaceAllString(t, " ")
	t = regionMarkerRe.ReplaceAllString(t, " ")
	t = regionSuffixRe.ReplaceAllString(t, " ")
	t = episodeRe.ReplaceAllString(t, " ")
	t = editionRe.ReplaceAllString(t, " ")
	t = promoSuffixRe.ReplaceAllString(t, " ")

	t = strings.ToLower(t)
	t = punctRe.ReplaceAllString(t, " ")
	t = whitespaceRe.ReplaceAllString(t, " ")
	t = strings.TrimSpace(t)

	// Leading/trailing article: "the matrix" and "matrix, the" normalize to
	// the same form.
	t = strings.TrimSuffix(t, " the")
	t = strings.TrimPrefix(t, "the ")
	t = strings.TrimSpace(t)

	return t
}
