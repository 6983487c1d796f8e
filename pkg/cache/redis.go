package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"kyra-backend/pkg/monitoring"
)

// Redis is a Cache shared between API instances
type Redis struct {
	rdb     *goredis.Client
	prefix  string
	metrics *monitoring.Metrics
}

type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// NewRedis connects and pings the server
func NewRedis(ctx context.Context, opts RedisOptions, metrics *monitoring.Metrics) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisFromClient(rdb, metrics), nil
}

func NewRedisFromClient(rdb *goredis.Client, metrics *monitoring.Metrics) *Redis {
	return &Redis{rdb: rdb, prefix: "kyra:", metrics: metrics}
}

func (r *Redis) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		r.metrics.ObserveCache(false)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.metrics.ObserveCache(true)
	if err := decode(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.prefix+key, data, ttl).Err()
}

// Ping is used by the readiness check
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
