package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/recast/internal/config"
	"github.com/raphaelgruber/recast/internal/metrics"
)

// Embedder wraps langchaingo embeddings with dimension validation.
type Embedder struct {
	model     embeddings.Embedder
	dimension int
	modelName string
	metrics   *metrics.Collector
}

// NewEmbedder creates an embedder for modelName using the configured provider.
// The configured dimension is enforced only for the configured default model.
func NewEmbedder(cfg config.Config, modelName string, collector *metrics.Collector) (*Embedder, error) {
	if modelName == "" {
		modelName = cfg.EmbedModel
	}
	var model embeddings.Embedder
	var err error

	switch cfg.EmbedProvider {
	case config.ProviderOllama:
		llm, ollamaErr := ollama.New(
			ollama.WithModel(modelName),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if ollamaErr != nil {
			return nil, fmt.Errorf("create ollama client: %w", ollamaErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OpenAI API key required")
		}
		llm, openaiErr := openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithEmbeddingModel(modelName),
		)
		if openaiErr != nil {
			return nil, fmt.Errorf("create openai client: %w", openaiErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.EmbedProvider)
	}

	dimension := 0
	if modelName == cfg.EmbedModel {
		dimension = cfg.EmbedDimension
	}
	return NewEmbedderFrom(model, modelName, dimension, collector), nil
}

// NewEmbedderFrom wraps an existing langchaingo embedder. A zero dimension
// disables the length check.
func NewEmbedderFrom(model embeddings.Embedder, name string, dimension int, collector *metrics.Collector) *Embedder {
	return &Embedder{model: model, modelName: name, dimension: dimension, metrics: collector}
}

// Embed generates an embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	textLen := len(text)
	slog.Debug("embedding text", "model", e.modelName, "text_len", textLen)

	start := time.Now()
	vectors, err := e.model.EmbedDocuments(ctx, []string{text})
	duration := time.Since(start)

	if err != nil {
		e.metrics.RecordError(metrics.OpEmbedding)
		slog.Warn("embedding failed", "model", e.modelName, "text_len", textLen, "duration_ms", duration.Milliseconds(), "error", err)
		return nil, wrapFatalError(fmt.Errorf("embed: %w", err))
	}

	if len(vectors) == 0 {
		e.metrics.RecordError(metrics.OpEmbedding)
		return nil, errors.New("no embedding returned")
	}

	embedding := vectors[0]
	if e.dimension > 0 && len(embedding) != e.dimension {
		e.metrics.RecordError(metrics.OpEmbedding)
		return nil, fmt.Errorf("dimension mismatch: got %d, want %d", len(embedding), e.dimension)
	}

	e.metrics.RecordTiming(metrics.OpEmbedding, duration)
	return embedding, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.modelName
}

// Embedders lazily builds one Embedder per model name.
type Embedders struct {
	cfg       config.Config
	collector *metrics.Collector

	mu      sync.Mutex
	byModel map[string]*Embedder
}

// NewEmbedders returns an empty per-model embedder cache.
func NewEmbedders(cfg config.Config, collector *metrics.Collector) *Embedders {
	return &Embedders{cfg: cfg, collector: collector, byModel: make(map[string]*Embedder)}
}

// For returns the embedder for model, creating it on first use.
// An empty model selects the configured default.
func (c *Embedders) For(model string) (*Embedder, error) {
	if model == "" {
		model = c.cfg.EmbedModel
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byModel[model]; ok {
		return e, nil
	}
	e, err := NewEmbedder(c.cfg, model, c.collector)
	if err != nil {
		return nil, err
	}
	c.byModel[model] = e
	return e, nil
}
