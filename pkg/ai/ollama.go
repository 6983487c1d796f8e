package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultOllamaBaseURL    = "http://localhost:11434"
	defaultOllamaModel      = "llama3"
	defaultOllamaEmbedModel = "nomic-embed-text"
)

// OllamaService implements Provider using an Ollama server
type OllamaService struct {
	client        *resty.Client
	getBaseURL    func() string // Dynamic getter for BaseURL
	getModel      func() string // Dynamic getter for Model
	getEmbedModel func() string
}

// NewOllamaService creates a new Ollama service with static settings
func NewOllamaService(baseURL, model string, timeout time.Duration) *OllamaService {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return NewOllamaServiceWithGetters(
		func() string { return baseURL },
		func() string { return model },
		func() string { return defaultOllamaEmbedModel },
		timeout,
	)
}

// NewOllamaServiceWithGetters creates a new Ollama service whose settings are read on every call
func NewOllamaServiceWithGetters(getBaseURL, getModel, getEmbedModel func() string, timeout time.Duration) *OllamaService {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := resty.New().
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &OllamaService{
		client:        c,
		getBaseURL:    getBaseURL,
		getModel:      getModel,
		getEmbedModel: getEmbedModel,
	}
}

func (o *OllamaService) Name() string { return string(ProviderOllama) }

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Format  string                 `json:"format,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (o *OllamaService) url(path string) string {
	base := strings.TrimRight(o.getBaseURL(), "/")
	if base == "" {
		base = defaultOllamaBaseURL
	}
	return base + path
}

// Generate implements Provider
func (o *OllamaService) Generate(ctx context.Context, prompt string, format ResponseFormat) (string, error) {
	reqBody := ollamaGenerateRequest{
		Model:  o.getModel(),
		Prompt: prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": 0.2,
		},
	}
	if format == FormatJSON {
		reqBody.Format = "json"
	}

	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(&reqBody).
		Post(o.url("/api/generate"))
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("ollama API error (%d): %s", resp.StatusCode(), resp.String())
	}

	var result ollamaGenerateResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return result.Response, nil
}

// Embed implements Provider. Ollama has no dimension parameter, so the
// configured embedding model must produce vectors of the requested size.
func (o *OllamaService) Embed(ctx context.Context, text string, dims int) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}
	model := o.getEmbedModel()
	if model == "" {
		model = defaultOllamaEmbedModel
	}

	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(&ollamaEmbedRequest{Model: model, Input: text}).
		Post(o.url("/api/embed"))
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode(), resp.String())
	}

	var result ollamaEmbedResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}
	vec := result.Embeddings[0]
	if dims > 0 && len(vec) != dims {
		return nil, fmt.Errorf("ollama embedding has %d dimensions, want %d", len(vec), dims)
	}
	return vec, nil
}

// Ping checks that the server at baseURL answers /api/tags. An empty baseURL uses the current setting.
func (o *OllamaService) Ping(ctx context.Context, baseURL string) error {
	if baseURL == "" {
		baseURL = o.getBaseURL()
	}
	resp, err := o.client.R().
		SetContext(ctx).
		Get(strings.TrimRight(baseURL, "/") + "/api/tags")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("ollama status %d", resp.StatusCode())
	}
	return nil
}
