package search

import (
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// caseFold performs Unicode case-folding, independent of any particular
// language's casing rules.
var caseFold = cases.Fold()

// stripMarks decomposes text, removes combining marks ("Café" -> "Cafe"),
// and recomposes to NFC, so accented and unaccented spellings match the
// same terms.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Token is one word-like run found in a piece of text, with its position
// (the index of the token within the text, not its byte offset) used for
// proximity scoring.
type Token struct {
	Term     string
	Position int
}

// Tokenize splits text into case-folded, mark-stripped, NFC-normalised
// word tokens, scanning runs of letters and digits as word boundaries.
func Tokenize(text string) []Token {
	normalized, _, err := transform.String(stripMarks, text)
	if err != nil {
		normalized = norm.NFC.String(text)
	}
	runes := []rune(normalized)

	var tokens []Token
	position := 0

	for i := 0; i < len(runes); {
		if !isWordRune(runes[i]) {
			i++
			continue
		}

		start := i
		for i < len(runes) && isWordRune(runes[i]) {
			i++
		}

		tokens = append(tokens, Token{
			Term:     caseFold.String(string(runes[start:i])),
			Position: position,
		})
		position++
	}

	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
