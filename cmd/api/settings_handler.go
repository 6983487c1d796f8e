package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kyra-backend/pkg/config"
)

// OllamaSettings are the runtime-configurable Ollama settings
type OllamaSettings struct {
	OllamaBaseURL string `json:"ollama_base_url"`
	OllamaModel   string `json:"ollama_model,omitempty"`
}

// Pinger checks that an Ollama server answers at baseURL
type Pinger interface {
	Ping(ctx context.Context, baseURL string) error
}

// Settings holds the Ollama settings read by the provider on every call.
// They change through the settings API or when config.yaml is edited.
type Settings struct {
	mu      sync.RWMutex
	current OllamaSettings
	log     *zap.Logger
}

func NewSettings(cfg config.AIConfig, log *zap.Logger) *Settings {
	return &Settings{
		current: OllamaSettings{OllamaBaseURL: cfg.OllamaBaseURL, OllamaModel: cfg.OllamaModel},
		log:     log.Named("settings"),
	}
}

func (s *Settings) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.OllamaBaseURL
}

func (s *Settings) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.OllamaModel
}

func (s *Settings) Snapshot() OllamaSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Apply takes the Ollama fields of a reloaded config
func (s *Settings) Apply(cfg config.AIConfig) {
	s.set(cfg.OllamaBaseURL, cfg.OllamaModel)
	s.log.Info("ai settings reloaded", zap.String("ollama_base_url", cfg.OllamaBaseURL), zap.String("ollama_model", cfg.OllamaModel))
}

func (s *Settings) set(baseURL, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if baseURL != "" {
		s.current.OllamaBaseURL = baseURL
	}
	if model != "" {
		s.current.OllamaModel = model
	}
}

// SettingsHandler exposes Settings over HTTP
type SettingsHandler struct {
	settings *Settings
	ollama   Pinger
}

func NewSettingsHandler(settings *Settings, ollama Pinger) *SettingsHandler {
	return &SettingsHandler{settings: settings, ollama: ollama}
}

// GetOllamaSettings returns current Ollama configuration
// GET /api/settings/ollama
func (h *SettingsHandler) GetOllamaSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settings.Snapshot())
}

// UpdateOllamaSettings updates Ollama configuration at runtime
// PUT /api/settings/ollama
func (h *SettingsHandler) UpdateOllamaSettings(c *gin.Context) {
	var req struct {
		OllamaBaseURL string `json:"ollama_base_url" binding:"required,url"`
		OllamaModel   string `json:"ollama_model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.settings.set(req.OllamaBaseURL, req.OllamaModel)
	current := h.settings.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"message":         "Ollama settings updated successfully",
		"ollama_base_url": current.OllamaBaseURL,
		"ollama_model":    current.OllamaModel,
	})
}

// TestOllamaConnection tests if the Ollama server is reachable
// POST /api/settings/ollama/test
func (h *SettingsHandler) TestOllamaConnection(c *gin.Context) {
	var req struct {
		OllamaBaseURL string `json:"ollama_base_url"`
	}
	// An empty body tests the current settings
	_ = c.ShouldBindJSON(&req)
	if req.OllamaBaseURL == "" {
		req.OllamaBaseURL = h.settings.BaseURL()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := h.ollama.Ping(ctx, req.OllamaBaseURL); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"connected": false,
			"error":     err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connected":       true,
		"ollama_base_url": req.OllamaBaseURL,
	})
}
