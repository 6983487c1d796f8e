package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProvider struct {
	name  string
	out   string
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, prompt string, format ResponseFormat) (string, error) {
	s.calls++
	return s.out, s.err
}

func (s *stubProvider) Embed(ctx context.Context, text string, dims int) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return make([]float32, dims), nil
}

func TestFallbackService_Generate(t *testing.T) {
	t.Run("primary succeeds", func(t *testing.T) {
		primary := &stubProvider{name: "gemini", out: "ok"}
		f := &FallbackService{primary: primary, log: zap.NewNop()}

		out, err := f.Generate(context.Background(), "p", FormatText)
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	})

	t.Run("quota error falls back", func(t *testing.T) {
		primary := &stubProvider{name: "gemini", err: errors.New("gemini API error (429): RESOURCE_EXHAUSTED")}
		secondary := &stubProvider{name: "ollama", out: "local"}
		f := &FallbackService{primary: primary, secondary: secondary, log: zap.NewNop()}

		out, err := f.Generate(context.Background(), "p", FormatText)
		require.NoError(t, err)
		assert.Equal(t, "local", out)
		assert.Equal(t, 1, secondary.calls)
	})

	t.Run("other errors do not fall back", func(t *testing.T) {
		primary := &stubProvider{name: "gemini", err: errors.New("gemini API error (400): bad request")}
		secondary := &stubProvider{name: "ollama", out: "local"}
		f := &FallbackService{primary: primary, secondary: secondary, log: zap.NewNop()}

		_, err := f.Generate(context.Background(), "p", FormatText)
		require.Error(t, err)
		assert.Equal(t, 0, secondary.calls)
	})

	t.Run("no providers", func(t *testing.T) {
		f := &FallbackService{log: zap.NewNop()}
		_, err := f.Generate(context.Background(), "p", FormatText)
		assert.ErrorIs(t, err, ErrNoProvider)
	})
}

func TestFallbackService_EmbedConnectionError(t *testing.T) {
	primary := &stubProvider{name: "gemini", err: errors.New("dial tcp: connection refused")}
	secondary := &stubProvider{name: "ollama"}
	f := &FallbackService{primary: primary, secondary: secondary, log: zap.NewNop()}

	vec, err := f.Embed(context.Background(), "hello", EmbeddingDimensions)
	require.NoError(t, err)
	assert.Len(t, vec, EmbeddingDimensions)
}

func TestErrorClassifiers(t *testing.T) {
	assert.True(t, isQuotaError(errors.New("Too Many Requests")))
	assert.False(t, isQuotaError(nil))
	assert.True(t, isConnectionError(errors.New("unexpected EOF")))
	assert.False(t, isConnectionError(errors.New("invalid argument")))
}
