package observability

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/trialstore/internal/platform/logger"
)

const defaultScrapeInterval = 15 * time.Second

// Metrics holds the trialstore collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	conflicts  *prometheus.CounterVec
	retries    *prometheus.CounterVec
	cache      *prometheus.CounterVec
	poolStats  *prometheus.GaugeVec
	redisUp    prometheus.Gauge
	redisPing  prometheus.Gauge
}

// New registers the trialstore metrics on a private registry, together with
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	m := &Metrics{
		registry: reg,
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trialstore_operations_total",
			Help: "Storage operations by name and status.",
		}, []string{"op", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trialstore_operation_duration_seconds",
			Help:    "Storage operation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3.3s
		}, []string{"op"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trialstore_conflicts_total",
			Help: "Lost allocation or compare-and-set races by operation.",
		}, []string{"op"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trialstore_retries_total",
			Help: "Retried attempts and transient failures by operation.",
		}, []string{"op"}),
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trialstore_lookup_cache_total",
			Help: "Lookup cache results (hit, miss, error).",
		}, []string{"result"}),
		poolStats: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trialstore_sql_pool",
			Help: "database/sql pool statistics of the SQL document store.",
		}, []string{"stat"}),
		redisUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "trialstore_redis_up",
			Help: "1 when the lookup cache answered its last ping.",
		}),
		redisPing: f.NewGauge(prometheus.GaugeOpts{
			Name: "trialstore_redis_ping_seconds",
			Help: "Latency of the last lookup cache ping.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition of the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) ObserveOperation(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	op = labelOrUnknown(op)
	m.operations.WithLabelValues(op, labelOrUnknown(status)).Inc()
	m.latency.WithLabelValues(op).Observe(dur.Seconds())
}

func (m *Metrics) IncConflict(op string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(labelOrUnknown(op)).Inc()
}

func (m *Metrics) IncRetry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(labelOrUnknown(op)).Inc()
}

// IncCache counts a lookup cache result: "hit", "miss" or "error".
func (m *Metrics) IncCache(result string) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues(labelOrUnknown(result)).Inc()
}

// StartPoolCollector samples the connection pool behind db until ctx ends.
func (m *Metrics) StartPoolCollector(ctx context.Context, log *logger.Logger, db *gorm.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}
	if interval <= 0 {
		interval = defaultScrapeInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: sql pool stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.poolStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
				m.poolStats.WithLabelValues("in_use").Set(float64(stats.InUse))
				m.poolStats.WithLabelValues("idle").Set(float64(stats.Idle))
				m.poolStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
				m.poolStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
				m.poolStats.WithLabelValues("max_open_connections").Set(float64(stats.MaxOpenConnections))
			}
		}
	}()
}

// StartRedisCollector pings the lookup cache until ctx ends. The client is
// owned by the caller.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient, interval time.Duration) {
	if m == nil || rdb == nil {
		return
	}
	if interval <= 0 {
		interval = defaultScrapeInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func labelOrUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
