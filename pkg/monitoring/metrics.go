package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the prometheus collectors of the service.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SyncPassesTotal   *prometheus.CounterVec
	SyncMessagesTotal *prometheus.CounterVec
	SyncDuration      prometheus.Histogram

	AICallDuration *prometheus.HistogramVec
	AICallErrors   *prometheus.CounterVec

	ChatRequestsTotal *prometheus.CounterVec

	CacheLookups *prometheus.CounterVec

	EmbeddingsQueued prometheus.Counter
	EmbeddingsStored prometheus.Counter
}

// NewMetrics registers the collectors on reg. Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kyra_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kyra_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		SyncPassesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kyra_sync_passes_total",
				Help: "Synchronization passes by outcome",
			},
			[]string{"outcome"},
		),
		SyncMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kyra_sync_messages_total",
				Help: "Messages seen by synchronization passes, by kind (fetched, new, failed)",
			},
			[]string{"kind"},
		),
		SyncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kyra_sync_duration_seconds",
				Help:    "Duration of a synchronization pass",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		AICallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kyra_ai_call_duration_seconds",
				Help:    "AI provider call duration by operation",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		AICallErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kyra_ai_call_errors_total",
				Help: "AI provider failures by operation",
			},
			[]string{"operation"},
		),
		ChatRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kyra_chat_requests_total",
				Help: "Chat requests by intent and outcome",
			},
			[]string{"intent", "outcome"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kyra_cache_lookups_total",
				Help: "Cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),
		EmbeddingsQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "kyra_embeddings_queued_total",
			Help: "Emails queued for embedding",
		}),
		EmbeddingsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "kyra_embeddings_stored_total",
			Help: "Embeddings written to the vector index",
		}),
	}
}

func (m *Metrics) ObserveSync(outcome string, fetched, created, failed int, took time.Duration) {
	if m == nil {
		return
	}
	m.SyncPassesTotal.WithLabelValues(outcome).Inc()
	m.SyncMessagesTotal.WithLabelValues("fetched").Add(float64(fetched))
	m.SyncMessagesTotal.WithLabelValues("new").Add(float64(created))
	m.SyncMessagesTotal.WithLabelValues("failed").Add(float64(failed))
	m.SyncDuration.Observe(took.Seconds())
}

func (m *Metrics) ObserveAICall(operation string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.AICallDuration.WithLabelValues(operation).Observe(took.Seconds())
	if err != nil {
		m.AICallErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) ObserveChat(intent, outcome string) {
	if m == nil {
		return
	}
	m.ChatRequestsTotal.WithLabelValues(intent, outcome).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) EmbeddingQueued() {
	if m == nil {
		return
	}
	m.EmbeddingsQueued.Inc()
}

func (m *Metrics) EmbeddingStored() {
	if m == nil {
		return
	}
	m.EmbeddingsStored.Inc()
}

// GinMiddleware records request counts and latency per route template
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
