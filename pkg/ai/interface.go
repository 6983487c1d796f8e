package ai

import (
	"context"
	"errors"
)

// EmbeddingDimensions is the vector size stored for every email
const EmbeddingDimensions = 768

// ResponseFormat asks the provider for free text or a JSON document
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// ErrNoProvider is returned when no backend is configured for a call
var ErrNoProvider = errors.New("no AI provider available")

// Provider is the contract every model backend implements.
// Implement this interface to add new AI providers (Gemini, Ollama, OpenAI, etc.)
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, format ResponseFormat) (string, error)
	Embed(ctx context.Context, text string, dims int) ([]float32, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
)
