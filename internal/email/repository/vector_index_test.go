package repository

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlCapture records the statements gorm builds
type sqlCapture struct {
	logger.Interface
	mu  sync.Mutex
	sql []string
}

func (c *sqlCapture) LogMode(logger.LogLevel) logger.Interface { return c }

func (c *sqlCapture) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	stmt, _ := fc()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sql = append(c.sql, stmt)
}

func dryRunDB(t *testing.T) (*gorm.DB, *sqlCapture) {
	t.Helper()
	capture := &sqlCapture{}
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=kyra dbname=kyra sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               capture,
	})
	require.NoError(t, err)
	return db, capture
}

func TestSearchSimilarOrdersByCosineDistance(t *testing.T) {
	db, capture := dryRunDB(t)

	_, err := NewVectorIndex(db).SearchSimilar(context.Background(), "user-1", make([]float32, 768), 5)
	require.NoError(t, err)

	require.Len(t, capture.sql, 1)
	stmt := capture.sql[0]
	assert.Contains(t, stmt, "ORDER BY embedding <=> '[")
	assert.Contains(t, stmt, "LIMIT 5")
	assert.Less(t, strings.Index(stmt, "ORDER BY"), strings.Index(stmt, "LIMIT"))
}
