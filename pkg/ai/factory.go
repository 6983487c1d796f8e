package ai

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kyra-backend/pkg/gemini"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType // "gemini", "ollama" or "auto"

	GeminiAPIKey   string
	GeminiModel    string
	EmbeddingModel string

	Timeout time.Duration
}

// NewProvider creates a Provider based on the config.
// The Ollama backend reads its base URL and model through the settings getters so
// they can change at runtime.
func NewProvider(cfg Config, ollama *OllamaService, log *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("ai.gemini_api_key is required for the gemini provider")
		}
		return newGeminiProvider(cfg), nil

	case ProviderOllama:
		if ollama == nil {
			return nil, fmt.Errorf("ollama provider requested but not configured")
		}
		return ollama, nil

	default:
		// Gemini first when a key is present, Ollama as the local fallback
		if cfg.GeminiAPIKey != "" {
			return NewFallbackService(newGeminiProvider(cfg), ollama, log), nil
		}
		if ollama == nil {
			return nil, ErrNoProvider
		}
		return ollama, nil
	}
}

// geminiProvider adapts the REST client to the Provider contract
type geminiProvider struct {
	client *gemini.Service
}

func newGeminiProvider(cfg Config) *geminiProvider {
	return &geminiProvider{client: gemini.NewService(gemini.Config{
		APIKey:         cfg.GeminiAPIKey,
		Model:          cfg.GeminiModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Timeout:        cfg.Timeout,
	})}
}

func (g *geminiProvider) Name() string { return string(ProviderGemini) }

func (g *geminiProvider) Generate(ctx context.Context, prompt string, format ResponseFormat) (string, error) {
	return g.client.GenerateContent(ctx, prompt, format == FormatJSON)
}

func (g *geminiProvider) Embed(ctx context.Context, text string, dims int) ([]float32, error) {
	return g.client.EmbedContent(ctx, text, dims)
}
