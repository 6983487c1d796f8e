package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.GenerationConfig)
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"a\":1}"}]}}]}`))
	}))
	defer srv.Close()

	svc := NewService(Config{APIKey: "secret", BaseURL: srv.URL})
	out, err := svc.GenerateContent(context.Background(), "prompt", true)

	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)
}

func TestGenerateContent_Quota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	svc := NewService(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := svc.GenerateContent(context.Background(), "prompt", false)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestEmbedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 768, req.OutputDimensionality)
		assert.Equal(t, "models/text-embedding-004", req.Model)

		values := make([]float32, req.OutputDimensionality)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string]interface{}{"values": values},
		})
	}))
	defer srv.Close()

	svc := NewService(Config{APIKey: "k", BaseURL: srv.URL})
	vec, err := svc.EmbedContent(context.Background(), "hello", 768)

	require.NoError(t, err)
	assert.Len(t, vec, 768)
}
