// Package tokenizer provides the text normalisation shared by index build
// and query time. Text is lower-cased, stripped of every character that is
// not a letter, number, underscore or whitespace, and whitespace runs are
// collapsed to a single space. Tokens are the space-separated words of the
// normalised text. There is no stemming and no stop-word removal: "cat" and
// "cats" are different terms.
package tokenizer

import (
	"strings"
	"unicode"
)

// Normalize returns the canonical form of text. It never fails and is
// idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	// Lower first: some upper-case runes lower to a letter plus a combining
	// mark, and the mark has to be filtered in the same pass.
	text = strings.ToLower(text)

	var sb strings.Builder
	sb.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case isWordRune(r):
			if pendingSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			pendingSpace = false
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Tokenize normalises text and splits it into terms. Empty, whitespace-only
// and punctuation-only input yield an empty, non-nil slice.
func Tokenize(text string) []string {
	norm := Normalize(text)
	if norm == "" {
		return []string{}
	}
	return strings.Split(norm, " ")
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}
