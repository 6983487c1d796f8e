package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"kyra-backend/pkg/config"
)

type fakePinger struct {
	pinged string
	err    error
}

func (f *fakePinger) Ping(_ context.Context, baseURL string) error {
	f.pinged = baseURL
	return f.err
}

func settingsRouter(s *Settings, p Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewSettingsHandler(s, p)
	r.GET("/api/settings/ollama", h.GetOllamaSettings)
	r.PUT("/api/settings/ollama", h.UpdateOllamaSettings)
	r.POST("/api/settings/ollama/test", h.TestOllamaConnection)
	return r
}

func TestUpdateOllamaSettings(t *testing.T) {
	s := NewSettings(config.AIConfig{OllamaBaseURL: "http://localhost:11434", OllamaModel: "llama3"}, zap.NewNop())
	r := settingsRouter(s, &fakePinger{})

	req := httptest.NewRequest(http.MethodPut, "/api/settings/ollama", strings.NewReader(`{"ollama_base_url":"http://gpu-box:11434"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://gpu-box:11434", s.BaseURL())
	assert.Equal(t, "llama3", s.Model(), "model is kept when omitted")

	req = httptest.NewRequest(http.MethodPut, "/api/settings/ollama", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettingsApplyReload(t *testing.T) {
	s := NewSettings(config.AIConfig{OllamaBaseURL: "http://a:11434", OllamaModel: "llama3"}, zap.NewNop())
	s.Apply(config.AIConfig{OllamaBaseURL: "http://b:11434", OllamaModel: "mistral"})
	assert.Equal(t, OllamaSettings{OllamaBaseURL: "http://b:11434", OllamaModel: "mistral"}, s.Snapshot())
}

func TestOllamaConnection(t *testing.T) {
	s := NewSettings(config.AIConfig{OllamaBaseURL: "http://localhost:11434"}, zap.NewNop())
	p := &fakePinger{}
	r := settingsRouter(s, p)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/settings/ollama/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:11434", p.pinged)

	p.err = errors.New("connection refused")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/settings/ollama/test", strings.NewReader(`{"ollama_base_url":"http://down:1"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "http://down:1", p.pinged)
}

func TestTopicNames(t *testing.T) {
	g := config.GoogleConfig{ProjectID: "kyra-prod", PubSubTopic: "gmail-updates"}
	assert.Equal(t, "projects/kyra-prod/topics/gmail-updates", watchTopic(g))
	assert.Equal(t, "gmail-updates", subscriptionTopic(g))

	g.PubSubTopic = "projects/other/topics/inbox"
	assert.Equal(t, "projects/other/topics/inbox", watchTopic(g))
	assert.Equal(t, "inbox", subscriptionTopic(g))
}
