package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"
)

// FallbackService routes calls to the primary provider and retries on the
// secondary one when the primary is unreachable or out of quota
type FallbackService struct {
	primary   Provider
	secondary Provider
	log       *zap.Logger
}

// NewFallbackService creates a new fallback service. A nil secondary disables the fallback.
func NewFallbackService(primary Provider, secondary *OllamaService, log *zap.Logger) *FallbackService {
	if log == nil {
		log = zap.NewNop()
	}
	f := &FallbackService{primary: primary, log: log.Named("ai")}
	if secondary != nil {
		f.secondary = secondary
	}
	return f
}

func (f *FallbackService) Name() string { return string(ProviderAuto) }

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	connectionIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	}
	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	quotaIndicators := []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
		"resource_exhausted",
	}
	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// Generate tries the primary provider and falls back on connection or quota errors
func (f *FallbackService) Generate(ctx context.Context, prompt string, format ResponseFormat) (string, error) {
	if f.primary != nil {
		result, err := f.primary.Generate(ctx, prompt, format)
		if err == nil {
			return result, nil
		}
		if f.secondary == nil || !(isQuotaError(err) || isConnectionError(err)) {
			return "", fmt.Errorf("%s generate: %w", f.primary.Name(), err)
		}
		f.log.Warn("primary provider failed, falling back",
			zap.String("primary", f.primary.Name()), zap.Error(err))
	}

	if f.secondary != nil {
		result, err := f.secondary.Generate(ctx, prompt, format)
		if err != nil {
			return "", fmt.Errorf("%s generate: %w", f.secondary.Name(), err)
		}
		return result, nil
	}
	return "", ErrNoProvider
}

// Embed tries the primary provider and falls back on connection or quota errors
func (f *FallbackService) Embed(ctx context.Context, text string, dims int) ([]float32, error) {
	if f.primary != nil {
		vec, err := f.primary.Embed(ctx, text, dims)
		if err == nil {
			return vec, nil
		}
		if f.secondary == nil || !(isQuotaError(err) || isConnectionError(err)) {
			return nil, fmt.Errorf("%s embed: %w", f.primary.Name(), err)
		}
		f.log.Warn("primary embedding failed, falling back",
			zap.String("primary", f.primary.Name()), zap.Error(err))
	}

	if f.secondary != nil {
		vec, err := f.secondary.Embed(ctx, text, dims)
		if err != nil {
			return nil, fmt.Errorf("%s embed: %w", f.secondary.Name(), err)
		}
		return vec, nil
	}
	return nil, ErrNoProvider
}
