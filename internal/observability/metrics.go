package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

const namespace = "ontomap"

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	fanoutPublished   *prometheus.CounterVec
	fanoutAcked       *prometheus.CounterVec
	fanoutRetried     *prometheus.CounterVec
	fanoutDeadLetters *prometheus.CounterVec
	projectionApply   *prometheus.HistogramVec

	outboxPending  prometheus.Gauge
	relayPublished prometheus.Counter
	relayFailed    prometheus.Counter

	predictionLatency *prometheus.HistogramVec
	predictionResults prometheus.Histogram
	memoComputations  prometheus.Counter

	pgStats   *prometheus.GaugeVec
	redisUp   prometheus.Gauge
	redisPing prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Current returns the process-wide metrics, or nil when metrics are disabled.
func Current() *Metrics {
	return instance
}

// Init builds the process-wide metrics once. It returns nil when disabled; every method is
// nil-safe so callers never branch on it.
func Init(log *logger.Logger, enabled bool) *Metrics {
	if !enabled {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("prometheus metrics initialized")
		}
	})
	return instance
}

// New builds a Metrics on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api", Name: "requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "api", Name: "request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "api", Name: "inflight_requests",
			Help: "In-flight API requests.",
		}),
		fanoutPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fanout", Name: "published_total",
			Help: "Events published by topic.",
		}, []string{"topic"}),
		fanoutAcked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fanout", Name: "acked_total",
			Help: "Events applied and acknowledged by projection.",
		}, []string{"projection"}),
		fanoutRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fanout", Name: "retries_total",
			Help: "Failed apply attempts that were retried, by projection.",
		}, []string{"projection"}),
		fanoutDeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fanout", Name: "dead_letters_total",
			Help: "Events diverted to the dead-letter topic and outbox rows parked by the relay, by projection and reason.",
		}, []string{"projection", "reason"}),
		projectionApply: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "projection", Name: "apply_duration_seconds",
			Help:    "Projection apply latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"projection", "status"}),
		outboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "pending",
			Help: "Outbox rows not yet published.",
		}),
		relayPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "relayed_total",
			Help: "Outbox rows published to the fanout.",
		}),
		relayFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "relay_failures_total",
			Help: "Outbox rows whose publish failed.",
		}),
		predictionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "prediction", Name: "duration_seconds",
			Help:    "Predict latency in seconds by outcome.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"outcome"}),
		predictionResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "prediction", Name: "results",
			Help:    "Predictions returned per request.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		memoComputations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "similarity", Name: "computations_total",
			Help: "Similarity scores computed (memo misses).",
		}),
		pgStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "postgres", Name: "pool",
			Help: "database/sql pool stats by field.",
		}, []string{"field"}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "redis", Name: "up",
			Help: "1 when the last redis ping succeeded.",
		}),
		redisPing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "redis", Name: "ping_seconds",
			Help: "Latency of the last redis ping.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.fanoutPublished, m.fanoutAcked, m.fanoutRetried, m.fanoutDeadLetters, m.projectionApply,
		m.outboxPending, m.relayPublished, m.relayFailed,
		m.predictionLatency, m.predictionResults, m.memoComputations,
		m.pgStats, m.redisUp, m.redisPing,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	code := strconv.Itoa(status)
	m.apiRequests.WithLabelValues(method, route, code).Inc()
	m.apiLatency.WithLabelValues(method, route, code).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) IncFanoutPublished(topic string) {
	if m == nil {
		return
	}
	m.fanoutPublished.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncFanoutAcked(projection string) {
	if m == nil {
		return
	}
	m.fanoutAcked.WithLabelValues(projection).Inc()
}

func (m *Metrics) IncFanoutRetried(projection string) {
	if m == nil {
		return
	}
	m.fanoutRetried.WithLabelValues(projection).Inc()
}

func (m *Metrics) IncFanoutDeadLetter(projection, reason string) {
	if m == nil {
		return
	}
	m.fanoutDeadLetters.WithLabelValues(projection, reason).Inc()
}

func (m *Metrics) ObserveProjectionApply(projection, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.projectionApply.WithLabelValues(projection, status).Observe(dur.Seconds())
}

func (m *Metrics) AddRelayed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.relayPublished.Add(float64(n))
}

func (m *Metrics) IncRelayFailed() {
	if m == nil {
		return
	}
	m.relayFailed.Inc()
}

func (m *Metrics) ObservePrediction(outcome string, results int, dur time.Duration) {
	if m == nil {
		return
	}
	m.predictionLatency.WithLabelValues(outcome).Observe(dur.Seconds())
	if outcome == "ok" {
		m.predictionResults.Observe(float64(results))
	}
}

func (m *Metrics) AddMemoComputations(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.memoComputations.Add(float64(n))
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}
	go every(ctx, interval, func() {
		sqlDB, err := db.DB()
		if err != nil {
			if log != nil {
				log.Warn("metrics: postgres stats unavailable", "error", err)
			}
			return
		}
		stats := sqlDB.Stats()
		m.pgStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
		m.pgStats.WithLabelValues("in_use").Set(float64(stats.InUse))
		m.pgStats.WithLabelValues("idle").Set(float64(stats.Idle))
		m.pgStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
		m.pgStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
		m.pgStats.WithLabelValues("max_open_connections").Set(float64(stats.MaxOpenConnections))
	})
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient, interval time.Duration) {
	if m == nil || rdb == nil {
		return
	}
	go every(ctx, interval, func() {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.redisUp.Set(0)
			if log != nil {
				log.Warn("metrics: redis ping failed", "error", err)
			}
			return
		}
		m.redisUp.Set(1)
		m.redisPing.Set(time.Since(start).Seconds())
	})
}

// StartOutboxCollector samples the unpublished outbox depth.
func (m *Metrics) StartOutboxCollector(ctx context.Context, log *logger.Logger, pending func(context.Context) (int64, error), interval time.Duration) {
	if m == nil || pending == nil {
		return
	}
	go every(ctx, interval, func() {
		n, err := pending(ctx)
		if err != nil {
			if log != nil {
				log.Warn("metrics: outbox depth unavailable", "error", err)
			}
			return
		}
		m.outboxPending.Set(float64(n))
	})
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
