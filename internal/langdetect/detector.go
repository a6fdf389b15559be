// Package langdetect attributes short sentences to languages by common-word frequency.
package langdetect

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// MinTokens is the minimum token count a sentence needs before any language is attributed.
	MinTokens = 3
	// MatchRatio is the fraction of tokens that must be common words of a language.
	MatchRatio = 0.40
)

var wordRe = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)

// Detector attributes sentences to languages using a Lexicon.
type Detector struct {
	lexicon *Lexicon
}

// New returns a Detector backed by lex. A nil lex uses Default().
func New(lex *Lexicon) *Detector {
	if lex == nil {
		lex = Default()
	}
	return &Detector{lexicon: lex}
}

// Tokenize lower-cases s and splits it into word tokens.
func Tokenize(s string) []string {
	// cases.Caser is stateful, so each call gets its own.
	lower := cases.Lower(language.Und).String(s)
	return wordRe.FindAllString(lower, -1)
}

// Detect returns the subset of candidates whose common-word ratio in sentence exceeds MatchRatio.
// Candidates are returned in the order given.
func (d *Detector) Detect(sentence string, candidates []string) []string {
	tokens := Tokenize(sentence)
	if len(tokens) < MinTokens {
		return nil
	}

	var matched []string
	for _, tag := range candidates {
		tag = strings.ToLower(tag)
		hits := 0
		for _, tok := range tokens {
			if d.lexicon.Has(tag, tok) {
				hits++
			}
		}
		if float64(hits)/float64(len(tokens)) > MatchRatio {
			matched = append(matched, tag)
		}
	}
	return matched
}
