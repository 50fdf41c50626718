package wer

import (
	"strings"
	"unicode"
)

// Token is a normalized word: lowercase, no punctuation, no whitespace.
type Token = string

// Tokens is an ordered sequence of normalized words.
type Tokens []Token

// String joins the tokens with single spaces. Normalizing the result yields
// the same sequence again.
func (t Tokens) String() string {
	return strings.Join(t, " ")
}

// Normalize lowercases text, drops everything that is not a letter, number
// or whitespace, and splits the remainder into words. Empty input yields an
// empty, non-nil sequence.
func Normalize(text string) Tokens {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, text)

	fields := strings.Fields(cleaned)
	if fields == nil {
		return Tokens{}
	}
	return Tokens(fields)
}
