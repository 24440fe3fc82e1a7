package conversation

import (
	"strings"
	"unicode"
)

var defaultClosingPhrases = []string{
	"bye",
	"goodbye",
	"good bye",
	"see you",
	"talk later",
	"talk to you later",
	"gotta go",
	"got to go",
	"have to go",
	"that's all",
	"that is all",
	"end call",
	"end the call",
	"hang up",
	"stop calling",
	"i'm done",
	"im done",
}

// IsClosingPhrase reports whether the utterance asks to end the call. Phrases match on
// word boundaries after lowercasing and dropping punctuation, so "bye!" matches but
// "bypass" does not.
func IsClosingPhrase(utterance string, phrases []string) bool {
	normalized := " " + normalize(utterance) + " "
	if strings.TrimSpace(normalized) == "" {
		return false
	}
	for _, p := range phrases {
		if strings.Contains(normalized, " "+normalize(p)+" ") {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteRune(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
