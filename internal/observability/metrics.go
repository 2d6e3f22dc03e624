package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/imran1337/solid-prediction/internal/platform/envutil"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
)

const namespace = "sp"

type Metrics struct {
	reg *prometheus.Registry

	apiRequests  *prometheus.CounterVec
	apiLatency   *prometheus.HistogramVec
	apiInflight  prometheus.Gauge
	apiReqError  prometheus.Counter
	builds       *prometheus.CounterVec
	buildLatency *prometheus.HistogramVec
	fetchRecords prometheus.Counter
	fetchLost    prometheus.Counter
	publishes    *prometheus.CounterVec
	batchRuns    *prometheus.CounterVec
	redisUp      prometheus.Gauge
	redisPing    prometheus.Gauge

	dbOnce sync.Once
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Current returns the process metrics, or nil when metrics are disabled.
// Every method is safe on a nil receiver.
func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	d := envutil.Duration("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("Metrics enabled")
		}
	})
	return instance
}

// NewMetrics builds a metric set on its own registry, together with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		apiReqError: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_error_total",
			Help: "Total API requests answered with a 5xx.",
		}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "index_builds_total",
			Help: "Index builds by final status.",
		}, []string{"status"}),
		buildLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "index_build_duration_seconds",
			Help:    "Index build duration in seconds by final status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"status"}),
		fetchRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_records_total",
			Help: "Feature vectors fetched.",
		}),
		fetchLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_lost_total",
			Help: "Feature vectors skipped after a failed read.",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "artifact_publish_total",
			Help: "Archive publish decisions by reason.",
		}, []string{"reason", "uploaded"}),
		batchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batch_runs_total",
			Help: "Batch runs by outcome.",
		}, []string{"outcome"}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "redis_up",
			Help: "Redis reachability (1 up, 0 down).",
		}),
		redisPing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "redis_ping_seconds",
			Help: "Latency of the last Redis ping.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiReqError,
		m.builds, m.buildLatency, m.fetchRecords, m.fetchLost,
		m.publishes, m.batchRuns, m.redisUp, m.redisPing,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
	if strings.HasPrefix(status, "5") {
		m.apiReqError.Inc()
	}
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

// ObserveBuild records one finished index build. status is "success",
// "failed" or "cancelled".
func (m *Metrics) ObserveBuild(status string, dur time.Duration) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.builds.WithLabelValues(status).Inc()
	if dur > 0 {
		m.buildLatency.WithLabelValues(status).Observe(dur.Seconds())
	}
}

func (m *Metrics) ObserveFetch(records, lost int) {
	if m == nil {
		return
	}
	m.fetchRecords.Add(float64(records))
	m.fetchLost.Add(float64(lost))
}

func (m *Metrics) IncPublish(reason string, uploaded bool) {
	if m == nil {
		return
	}
	up := "false"
	if uploaded {
		up = "true"
	}
	m.publishes.WithLabelValues(reason, up).Inc()
}

func (m *Metrics) IncBatchRun(outcome string) {
	if m == nil {
		return
	}
	m.batchRuns.WithLabelValues(outcome).Inc()
}

// StartDBCollector exports the connection pool stats of db. Only the first
// call registers a collector.
func (m *Metrics) StartDBCollector(log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	m.dbOnce.Do(func() {
		sqlDB, err := db.DB()
		if err != nil {
			if log != nil {
				log.Warn("metrics: db stats unavailable", "error", err)
			}
			return
		}
		if err := m.reg.Register(collectors.NewDBStatsCollector(sqlDB, db.Dialector.Name())); err != nil && log != nil {
			log.Warn("metrics: db stats collector not registered", "error", err)
		}
	})
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb goredis.Cmdable) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.pingRedis(ctx, log, rdb)
			}
		}
	}()
}

func (m *Metrics) pingRedis(ctx context.Context, log *logger.Logger, rdb goredis.Cmdable) {
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
}
