// Package llm provides completion and embedding services using langchaingo.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/raphaelgruber/recast/internal/config"
	"github.com/raphaelgruber/recast/internal/metrics"
	"github.com/raphaelgruber/recast/internal/models"
)

// Model wraps a langchaingo LLM for chat completion.
type Model struct {
	llm       llms.Model
	modelName string
	limiter   *rate.Limiter
	metrics   *metrics.Collector
}

// NewModel creates an LLM model based on configuration.
func NewModel(ctx context.Context, cfg config.Config, collector *metrics.Collector) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if awsErr != nil {
			return nil, fmt.Errorf("load aws config: %w", awsErr)
		}
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return NewModelFrom(model, cfg.LLMModel, cfg.LLMRateLimit, collector), nil
}

// NewModelFrom wraps an existing langchaingo model. A positive rps caps the
// request rate across all callers of the returned Model.
func NewModelFrom(model llms.Model, name string, rps float64, collector *metrics.Collector) *Model {
	m := &Model{
		llm:       model,
		modelName: name,
		metrics:   collector,
	}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return m
}

// Complete sends messages to the model and returns the first choice's text.
// A non-empty model overrides the configured model name for this call.
func (m *Model) Complete(ctx context.Context, model string, messages []models.Message) (string, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	content := make([]llms.MessageContent, 0, len(messages))
	var inputTokens int
	for _, msg := range messages {
		content = append(content, llms.TextParts(chatType(msg.Role), msg.Content))
		inputTokens += CountTokens(msg.Content)
	}

	var opts []llms.CallOption
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	} else {
		model = m.modelName
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, content, opts...)
	duration := time.Since(start)
	if err != nil {
		m.metrics.RecordError(metrics.OpCompletion)
		slog.Warn("completion failed", "model", model, "duration_ms", duration.Milliseconds(), "error", err)
		return "", wrapFatalError(fmt.Errorf("complete: %w", err))
	}
	if len(response.Choices) == 0 {
		m.metrics.RecordError(metrics.OpCompletion)
		return "", errors.New("no response choices")
	}

	text := response.Choices[0].Content
	m.metrics.RecordLLMUsage(metrics.OpCompletion, duration, int64(inputTokens), int64(CountTokens(text)))
	slog.Debug("completion done", "model", model, "input_tokens", inputTokens, "duration_ms", duration.Milliseconds())
	return text, nil
}

// Model returns the default LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

func chatType(r models.Role) llms.ChatMessageType {
	switch r {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
