package dictation

import (
	"strings"
	"unicode"
)

// DefaultStopPhrases end a session when spoken, the dictation
// equivalent of a hangup command.
var DefaultStopPhrases = []string{"stop dictation", "end dictation"}

// PhraseMatcher detects command phrases in finalized transcript text.
// Matching is case-insensitive, ignores punctuation, and respects word
// boundaries, so "unstoppable" never triggers "stop".
type PhraseMatcher struct {
	phrases []string
}

func NewPhraseMatcher(phrases []string) *PhraseMatcher {
	pm := &PhraseMatcher{}
	for _, p := range phrases {
		if n := normalizePhrase(p); n != "" {
			pm.phrases = append(pm.phrases, n)
		}
	}
	return pm
}

// Match reports the first configured phrase contained in text.
func (pm *PhraseMatcher) Match(text string) (string, bool) {
	if len(pm.phrases) == 0 {
		return "", false
	}
	norm := " " + normalizePhrase(text) + " "
	for _, p := range pm.phrases {
		if strings.Contains(norm, " "+p+" ") {
			return p, true
		}
	}
	return "", false
}

// Phrases returns the normalized phrase list.
func (pm *PhraseMatcher) Phrases() []string {
	out := make([]string, len(pm.phrases))
	copy(out, pm.phrases)
	return out
}

// normalizePhrase lowercases, maps punctuation to spaces, and
// collapses runs of whitespace.
func normalizePhrase(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
