// Package cache provides a small get-or-compute cache with memory and redis backends.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache stores JSON encoded values with a time to live
type Cache interface {
	// Get decodes the cached value into dest. It reports false on a miss.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// GetOrCompute returns the cached value for key, or computes, stores and returns it.
// Backend errors never fail the call; the value is computed instead.
func GetOrCompute[T any](ctx context.Context, c Cache, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	if c != nil {
		if hit, err := c.Get(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	value, err := fn(ctx)
	if err != nil {
		return value, err
	}
	if c != nil {
		_ = c.Set(ctx, key, value, ttl)
	}
	return value, nil
}

func encode(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

func decode(data []byte, dest interface{}) error {
	return json.Unmarshal(data, dest)
}
