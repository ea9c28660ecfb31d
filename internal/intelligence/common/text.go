package common

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ---------------------------------------------------------------------------
// Text utilities
// ---------------------------------------------------------------------------

// Canonicalize applies NFC normalisation, folds every whitespace run
// (including non-breaking spaces) into a single space and trims the result.
func Canonicalize(text string) string {
	text = norm.NFC.String(text)
	var b strings.Builder
	b.Grow(len(text))
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteRune(' ')
			}
			prevSpace = true
		} else {
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// Token is a word with its byte offset in the source text.
type Token struct {
	Text  string
	Start int
	End   int
}

// Tokenize splits text into word tokens. Letters, digits, '-', '\'', '.' and
// '§' are word characters so citations such as "U.S.C." stay whole.
func Tokenize(text string) []Token {
	var tokens []Token
	inWord := false
	wordStart := 0
	for i, r := range text {
		isWordChar := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '\'' || r == '.' || r == '§'
		if isWordChar {
			if !inWord {
				wordStart = i
				inWord = true
			}
			continue
		}
		if inWord {
			tokens = append(tokens, Token{Text: text[wordStart:i], Start: wordStart, End: i})
			inWord = false
		}
	}
	if inWord {
		tokens = append(tokens, Token{Text: text[wordStart:], Start: wordStart, End: len(text)})
	}
	return tokens
}

// TokenIndexAt returns the index of the first token ending after offset, or
// len(tokens) when none does. tokens must be in text order.
func TokenIndexAt(tokens []Token, offset int) int {
	lo, hi := 0, len(tokens)
	for lo < hi {
		mid := (lo + hi) / 2
		if tokens[mid].End <= offset {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

//Personal.AI order the ending
