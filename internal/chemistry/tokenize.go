package chemistry

import (
	"iter"
	"slices"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const minTokenRunes = 2

// Tokens yields the lowercase word tokens of text lazily: maximal runs of
// letters and digits, at least two runes long, in original order.
// Combining marks extend a run but never start one.
func Tokens(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if text == "" {
			return
		}
		s := norm.NFC.String(text)
		lower := cases.Lower(language.Und)

		// Length is judged after case mapping, which may change the rune count.
		emit := func(tok string) bool {
			tok = lower.String(tok)
			if utf8.RuneCountInString(tok) < minTokenRunes {
				return true
			}
			return yield(tok)
		}

		start := -1
		for i, r := range s {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || (start >= 0 && unicode.IsMark(r)) {
				if start < 0 {
					start = i
				}
				continue
			}
			if start >= 0 {
				if !emit(s[start:i]) {
					return
				}
				start = -1
			}
		}
		if start >= 0 {
			emit(s[start:])
		}
	}
}

// Tokenize collects Tokens into a slice.
func Tokenize(text string) []string {
	return slices.Collect(Tokens(text))
}
