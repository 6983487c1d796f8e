package health

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger is anything with a connectivity check, such as the redis cache
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker exposes liveness and readiness endpoints
type Checker struct {
	health healthcheck.Handler
	logger *zap.Logger
}

// NewChecker registers the database check and, when redis is non-nil, the redis check
func NewChecker(db *sql.DB, redis Pinger, logger *zap.Logger) *Checker {
	hc := &Checker{
		health: healthcheck.NewHandler(),
		logger: logger,
	}

	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	if db != nil {
		hc.health.AddReadinessCheck("database", healthcheck.DatabasePingCheck(db, 2*time.Second))
	}
	if redis != nil {
		hc.health.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redis.Ping(ctx)
		})
	}
	return hc
}

// Handler serves /live and /ready
func (hc *Checker) Handler() http.Handler {
	return hc.health
}

// AddReadinessCheck lets optional components (vector store, AI provider) join the ready probe
func (hc *Checker) AddReadinessCheck(name string, check func() error) {
	hc.health.AddReadinessCheck(name, check)
}
