package gad7

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	crisisKeywords = []string{
		"suicide", "kill myself", "end my life", "want to die",
		"self harm", "hurt myself", "cut myself", "overdose",
	}
	affirmativeWords = []string{"yes", "yeah", "yep"}
	negativeWords    = []string{"no", "nope"}
)

// normalize folds compatibility forms (full-width letters, ligatures) before
// lower-casing so that matching stays a plain substring test.
func normalize(text string) string {
	return strings.ToLower(norm.NFKC.String(text))
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// MatchesCrisisKeywords reports whether text contains any crisis keyword.
func MatchesCrisisKeywords(text string) bool {
	return containsAny(normalize(text), crisisKeywords)
}

// MatchesAffirmative reports whether text contains a yes-synonym.
// Substring semantics: "eyes" matches.
func MatchesAffirmative(text string) bool {
	return containsAny(normalize(text), affirmativeWords)
}

// MatchesNegative reports whether text contains a no-synonym.
// Substring semantics: "not sure" and "know" both match.
func MatchesNegative(text string) bool {
	return containsAny(normalize(text), negativeWords)
}

// matchesConsent is the broader consent check: only "yes" counts.
func matchesConsent(text string) bool {
	return strings.Contains(normalize(text), "yes")
}
