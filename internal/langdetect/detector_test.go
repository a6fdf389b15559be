package langdetect

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	d := New(nil)

	tests := []struct {
		name       string
		sentence   string
		candidates []string
		want       []string
	}{
		{"english classic", "The cat sat on the mat.", []string{"en"}, []string{"en"}},
		{"english uppercase", "THE CAT SAT ON THE MAT", []string{"en"}, []string{"en"}},
		{"spanish", "El gato está en la casa con los niños.", []string{"en", "es"}, []string{"es"}},
		{"german", "Die Katze ist nicht hier und der Hund auch nicht.", []string{"de", "en"}, []string{"de"}},
		{"too short", "The cat", []string{"en"}, nil},
		{"unknown tag", "The cat sat on the mat.", []string{"xx"}, nil},
		{"no candidates", "The cat sat on the mat.", nil, nil},
		{"technical tokens", "kubectl apply -f deployment.yaml --dry-run", []string{"en"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.sentence, tt.candidates)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectEverydaySentences(t *testing.T) {
	d := New(nil)
	all := []string{"en", "es", "fr", "de", "it", "pt", "nl"}

	tests := []struct {
		sentence string
		want     string
	}{
		{"Our team will publish the new pricing page next week.", "en"},
		{"We need to find a better way to handle these requests before the end of the month.", "en"},
		{"Nuestro equipo va a publicar la nueva página de precios la próxima semana.", "es"},
		{"Nous avons parlé avec toute l'équipe de ce problème hier soir.", "fr"},
		{"Wir haben das Problem gestern mit dem neuen Team besprochen.", "de"},
		{"Abbiamo parlato con tutta la squadra di questo problema ieri sera.", "it"},
		{"A nossa equipe vai publicar a nova página de preços na próxima semana.", "pt"},
		{"We hebben het probleem gisteren met het hele team besproken.", "nl"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, []string{tt.want}, d.Detect(tt.sentence, all))
		})
	}
}

func TestDefaultLexiconSize(t *testing.T) {
	lex := Default()
	assert.ElementsMatch(t, []string{"en", "es", "fr", "de", "it", "pt", "nl"}, lex.Tags())
	for _, tag := range lex.Tags() {
		assert.GreaterOrEqual(t, len(lex.words[tag]), 300, "lexicon %s", tag)
	}
	assert.False(t, lex.Has("en", "cat"))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"straße", "über", "café_1"}, Tokenize("Straße, ÜBER café_1!"))
	assert.Empty(t, Tokenize("... !!! ???"))
}

func TestDetectRatioBoundary(t *testing.T) {
	lex := NewLexicon(map[string][]string{"en": {"alpha", "beta"}})
	d := New(lex)

	// 2 of 5 tokens is exactly 0.40, which is not above the threshold.
	assert.Nil(t, d.Detect("alpha beta gamma delta epsilon", []string{"en"}))
	// 2 of 4 tokens is 0.5.
	assert.Equal(t, []string{"en"}, d.Detect("alpha beta gamma delta", []string{"en"}))
}

func TestLexiconIsolatedFromInput(t *testing.T) {
	words := []string{"Foo", "bar"}
	lists := map[string][]string{"EN": words}
	lex := NewLexicon(lists)

	words[0] = "changed"
	lists["fr"] = []string{"le"}

	assert.True(t, lex.Has("en", "foo"))
	assert.False(t, lex.Has("en", "changed"))
	assert.False(t, lex.Has("fr", "le"))
}

func TestDetectConcurrent(t *testing.T) {
	d := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got := d.Detect("The cat sat on the mat.", []string{"en", "fr"})
				if len(got) != 1 || got[0] != "en" {
					t.Errorf("Detect() = %v, want [en]", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}
