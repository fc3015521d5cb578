// Package textutil provides tokenization, normalization and token
// features for sequence labeling.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize splits NFKC-normalized text into runs of letters, digits and
// underscores.
func Tokenize(text string) []string {
	return wordRe.FindAllString(norm.NFKC.String(text), -1)
}

// Ngrams returns the character n-grams of s for every n in [minN, maxN],
// shortest first.
func Ngrams(s string, minN, maxN int) []string {
	runes := []rune(s)
	var grams []string
	for n := max(minN, 1); n <= min(maxN, len(runes)); n++ {
		for lo := range len(runes) - n + 1 {
			grams = append(grams, string(runes[lo:lo+n]))
		}
	}
	return grams
}

var spaceRunRe = regexp.MustCompile(`\s{2,}|[\n\r]`)

// NormalizeWhitespaces collapses line breaks and whitespace runs into one
// space.
func NormalizeWhitespaces(text string) string {
	return spaceRunRe.ReplaceAllLiteralString(text, " ")
}

// Normalize lowercases NFKC-normalized text and collapses whitespace.
func Normalize(text string) string {
	return NormalizeWhitespaces(strings.ToLower(norm.NFKC.String(text)))
}

// NumberPattern masks a digit-heavy token: digits become X and letters
// become C. Tokens whose digit share is below ratio give "".
func NumberPattern(text string, ratio float64) string {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return ""
	}
	digits := 0
	for _, r := range text {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if float64(digits)/float64(n) < ratio {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsDigit(r):
			return 'X'
		case unicode.IsLetter(r) && r != 'X':
			return 'C'
		}
		return r
	}, text)
}

// Shape maps upper-case letters to X, other letters to x and digits to
// d, collapsing runs of the same class: "McDonald42" becomes "XxXxd".
func Shape(token string) string {
	var buf strings.Builder
	var last rune
	for _, r := range token {
		c := r
		switch {
		case unicode.IsUpper(r):
			c = 'X'
		case unicode.IsLetter(r):
			c = 'x'
		case unicode.IsDigit(r):
			c = 'd'
		}
		if c != last {
			buf.WriteRune(c)
			last = c
		}
	}
	return buf.String()
}

// Feature name prefixes produced by TokenFeatures.
const (
	WordFeature    = "w"
	ShapeFeature   = "shape"
	PrefixFeature  = "prefix"
	SuffixFeature  = "suffix"
	PatternFeature = "pattern"
	PrevFeature    = "prev"
	NextFeature    = "next"
	BoundaryToken  = "<s>"
)

// TokenFeatures returns the binary feature names describing tokens[i]:
// the normalized word, its shape, 3-character affixes, a digit pattern
// and the neighbouring words. Parts are joined with '.'.
func TokenFeatures(tokens []string, i int) []string {
	tok := tokens[i]
	word := Normalize(tok)
	feats := []string{
		WordFeature + "." + word,
		ShapeFeature + "." + Shape(tok),
	}
	if grams := Ngrams(word, 3, 3); len(grams) > 1 {
		feats = append(feats,
			PrefixFeature+"."+grams[0],
			SuffixFeature+"."+grams[len(grams)-1])
	}
	if p := NumberPattern(tok, 0.3); p != "" {
		feats = append(feats, PatternFeature+"."+p)
	}
	prev, next := BoundaryToken, BoundaryToken
	if i > 0 {
		prev = Normalize(tokens[i-1])
	}
	if i+1 < len(tokens) {
		next = Normalize(tokens[i+1])
	}
	return append(feats, PrevFeature+"."+prev, NextFeature+"."+next)
}
