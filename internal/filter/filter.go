// Package filter implements the programmatic first pass that drops sentences
// written in unwanted languages before any model is involved.
package filter

import (
	"strings"
	"unicode/utf8"

	"github.com/raphaelgruber/recast/internal/langdetect"
)

// MinSentenceLen is the rune length below which a sentence is always kept.
const MinSentenceLen = 3

// Stats describes what a Filter run removed.
type Stats struct {
	OriginalLen      int            `json:"original_len"`
	CleanedLen       int            `json:"cleaned_len"`
	SentencesTotal   int            `json:"sentences_total"`
	SentencesRemoved int            `json:"sentences_removed"`
	PerLanguage      map[string]int `json:"per_language,omitempty"`
}

// Retained returns cleaned/original. An empty original reports 0.
func (s Stats) Retained() float64 {
	if s.OriginalLen == 0 {
		return 0
	}
	return float64(s.CleanedLen) / float64(s.OriginalLen)
}

// Filter removes sentences attributed to any language in a removal set.
type Filter struct {
	detector *langdetect.Detector
}

// New returns a Filter using detector. A nil detector uses the default lexicon.
func New(detector *langdetect.Detector) *Filter {
	if detector == nil {
		detector = langdetect.New(nil)
	}
	return &Filter{detector: detector}
}

// Apply returns text with every sentence attributed to a language in remove dropped.
// With an empty removal set the text is returned unchanged, though its sentences
// are still counted.
func (f *Filter) Apply(text string, remove []string) (string, Stats) {
	sentences := SplitSentences(text)
	stats := Stats{
		OriginalLen:    utf8.RuneCountInString(text),
		SentencesTotal: len(sentences),
	}
	if len(remove) == 0 {
		stats.CleanedLen = stats.OriginalLen
		return text, stats
	}

	kept := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if utf8.RuneCountInString(s) < MinSentenceLen {
			kept = append(kept, s)
			continue
		}
		matched := f.detector.Detect(s, remove)
		if len(matched) == 0 {
			kept = append(kept, s)
			continue
		}
		stats.SentencesRemoved++
		if stats.PerLanguage == nil {
			stats.PerLanguage = make(map[string]int)
		}
		for _, tag := range matched {
			stats.PerLanguage[tag]++
		}
	}

	cleaned := strings.Join(kept, " ")
	stats.CleanedLen = utf8.RuneCountInString(cleaned)
	return cleaned, stats
}

// SplitSentences splits text on '.', '!' and '?'. A run of terminal punctuation
// stays with its sentence and an unterminated tail becomes the last sentence.
// Sentences are trimmed; empty ones are dropped.
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		for i+1 < len(runes) && isTerminal(runes[i+1]) {
			i++
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
