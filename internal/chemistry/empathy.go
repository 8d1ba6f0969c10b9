package chemistry

import (
	"slices"
	"strings"
)

// Lexicon is a set of lowercase acknowledgment/agreement/empathy phrases.
type Lexicon []string

// DefaultLexicon covers the English and Korean phrases the capture UI sees
// most. It is a coarse signal; false positives are accepted.
var DefaultLexicon = NewLexicon(
	// English
	"i agree", "agreed", "i understand", "i see what you mean", "i know what you mean",
	"that makes sense", "makes sense", "me too", "same here", "you're right", "you are right",
	"good point", "exactly", "totally", "absolutely", "i feel you", "i hear you",
	"that sounds", "sounds great", "sounds good", "i'm sorry", "sorry to hear",
	"that must be", "must have been", "thank you", "thanks for sharing", "of course",
	"no way", "wow", "really?",
	// Korean
	"맞아", "맞아요", "그렇구나", "그렇군요", "그러게", "그치", "공감", "이해해", "이해해요",
	"나도", "저도", "진짜", "정말", "대박", "좋다", "좋네요", "멋지다", "힘들었겠다",
	"힘드셨겠어요", "고마워", "감사해요", "그랬구나", "알겠어",
)

// NewLexicon lowercases, trims and de-duplicates phrases. Empty phrases are
// dropped.
func NewLexicon(phrases ...string) Lexicon {
	out := make(Lexicon, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// With returns a new lexicon extended by extra phrases.
func (l Lexicon) With(extra ...string) Lexicon {
	return NewLexicon(append(slices.Clone(l), extra...)...)
}

// Matches reports whether any phrase occurs in text, ignoring case.
func (l Lexicon) Matches(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range l {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// EmpathyRate is the fraction of utterances containing at least one lexicon
// phrase. An empty list scores 0.
func EmpathyRate(texts []string, lex Lexicon) float64 {
	if len(texts) == 0 {
		return 0
	}
	hits := 0
	for _, t := range texts {
		if lex.Matches(t) {
			hits++
		}
	}
	return clamp01(float64(hits) / float64(len(texts)))
}
