package langdetect

import "strings"

// Lexicon maps language tags to their common-word sets.
// A Lexicon is immutable once built and safe for concurrent use.
type Lexicon struct {
	words map[string]map[string]struct{}
}

// NewLexicon builds a Lexicon from word lists keyed by language tag.
// Tags and words are lower-cased; the input maps are copied.
func NewLexicon(lists map[string][]string) *Lexicon {
	words := make(map[string]map[string]struct{}, len(lists))
	for tag, list := range lists {
		tag = strings.ToLower(strings.TrimSpace(tag))
		set := words[tag]
		if set == nil {
			set = make(map[string]struct{}, len(list))
			words[tag] = set
		}
		for _, w := range list {
			set[strings.ToLower(w)] = struct{}{}
		}
	}
	return &Lexicon{words: words}
}

// Has reports whether word belongs to the common-word set of tag.
// Unknown tags have an empty set.
func (l *Lexicon) Has(tag, word string) bool {
	if l == nil {
		return false
	}
	_, ok := l.words[tag][word]
	return ok
}

// Tags returns the languages the lexicon knows.
func (l *Lexicon) Tags() []string {
	if l == nil {
		return nil
	}
	tags := make([]string, 0, len(l.words))
	for tag := range l.words {
		tags = append(tags, tag)
	}
	return tags
}

// Default returns the built-in lexicon covering en, es, fr, de, it, pt and nl.
func Default() *Lexicon {
	return defaultLexicon
}
