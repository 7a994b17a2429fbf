// Package metrics wires prometheus instrumentation for the HTTP surface,
// the response cache, and the upstream provider clients.
package metrics

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "tome"

// pattern params are stripped to build a constant path label:
//
//	"/api/v1/jobs/{jobId}" → "/api/v1/jobs"
var patternRE = regexp.MustCompile(`\{[^/]+\}`)

// NewRegistry creates a prometheus registry with default collectors already
// registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
			Namespace: namespace,
		}),
		collectors.NewBuildInfoCollector(),
	)
	return reg
}

// Handler returns an http.Handler serving the registry in the prometheus
// exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Instrument wraps an HTTP handler to record request latency, status codes,
// and in-flight counts.
func Instrument(reg *prometheus.Registry, next http.Handler) http.Handler {
	requests := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests",
			Help:      "HTTP request latencies by method & path",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 1.5, 2.0, 2.5, 5, 7.5, 10, 30, 60, 120},
		},
		[]string{"method", "path", "status"},
	)

	inflight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight",
			Help:      "Current number of inbound in-flight HTTP requests.",
		},
	)

	if reg != nil {
		reg.MustRegister(requests, inflight)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		inflight.Inc()
		defer inflight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := normalizePattern(r.Pattern)
		if path == "" {
			// Don't record traffic for unrecognized endpoints.
			return
		}

		duration := time.Since(start).Seconds()
		requests.WithLabelValues(r.Method, path, fmt.Sprint(rec.status)).Observe(duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func normalizePattern(pattern string) string {
	// Patterns look like "GET /api/v1/jobs/{jobId}".
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = path
	}
	p := patternRE.ReplaceAllString(pattern, "")
	p = strings.TrimSuffix(p, "/")
	p = strings.ReplaceAll(p, "//", "/")
	return p
}

// CacheMetrics counts cache hits and misses by tier.
type CacheMetrics struct {
	totals *prometheus.CounterVec
}

// NewCacheMetrics registers cache counters on reg. A nil registry yields a
// working but unregistered instance, which tests rely on.
func NewCacheMetrics(reg *prometheus.Registry) *CacheMetrics {
	totals := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "total",
			Help:      "Totals for the cache system by event type.",
		},
		[]string{"type"},
	)
	if reg != nil {
		reg.MustRegister(totals)
	}
	return &CacheMetrics{totals: totals}
}

func (cm *CacheMetrics) EdgeHitInc()  { cm.totals.WithLabelValues("edge_hits").Inc() }
func (cm *CacheMetrics) KVHitInc()    { cm.totals.WithLabelValues("kv_hits").Inc() }
func (cm *CacheMetrics) MissInc()     { cm.totals.WithLabelValues("misses").Inc() }
func (cm *CacheMetrics) NegativeInc() { cm.totals.WithLabelValues("negative_hits").Inc() }
func (cm *CacheMetrics) WriteErrInc() { cm.totals.WithLabelValues("write_errors").Inc() }

func (cm *CacheMetrics) HitGet() int64 {
	return counterGet(cm.totals, "edge_hits") + counterGet(cm.totals, "kv_hits")
}

func (cm *CacheMetrics) MissGet() int64 {
	return counterGet(cm.totals, "misses")
}

func (cm *CacheMetrics) HitRatioGet() float64 {
	hits := cm.HitGet()
	misses := cm.MissGet()
	if hits+misses == 0 {
		return 0.0
	}
	return float64(hits) / float64(hits+misses)
}

// ProviderMetrics records upstream call outcomes and latency per provider.
type ProviderMetrics struct {
	totals  *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func NewProviderMetrics(reg *prometheus.Registry) *ProviderMetrics {
	totals := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "total",
			Help:      "Upstream provider calls by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "latency_seconds",
			Help:      "Upstream provider call latency by provider.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	if reg != nil {
		reg.MustRegister(totals, latency)
	}
	return &ProviderMetrics{totals: totals, latency: latency}
}

func (pm *ProviderMetrics) Observe(provider, outcome string, elapsed time.Duration) {
	pm.totals.WithLabelValues(provider, outcome).Inc()
	pm.latency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (pm *ProviderMetrics) TotalGet(provider, outcome string) int64 {
	m := &dto.Metric{}
	if err := pm.totals.WithLabelValues(provider, outcome).Write(m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

// JobMetrics tracks pipeline job lifecycle counts.
type JobMetrics struct {
	totals  *prometheus.CounterVec
	running *prometheus.GaugeVec
}

func NewJobMetrics(reg *prometheus.Registry) *JobMetrics {
	totals := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Pipeline jobs by pipeline and terminal state.",
		},
		[]string{"pipeline", "state"},
	)
	running := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "running",
			Help:      "Currently running pipeline jobs by pipeline.",
		},
		[]string{"pipeline"},
	)
	if reg != nil {
		reg.MustRegister(totals, running)
	}
	return &JobMetrics{totals: totals, running: running}
}

func (jm *JobMetrics) Started(pipeline string) {
	jm.running.WithLabelValues(pipeline).Inc()
}

func (jm *JobMetrics) Finished(pipeline, state string) {
	jm.running.WithLabelValues(pipeline).Dec()
	jm.totals.WithLabelValues(pipeline, state).Inc()
}

func (jm *JobMetrics) TotalGet(pipeline, state string) int64 {
	return counterGetVec(jm.totals, pipeline, state)
}

func counterGet(vec *prometheus.CounterVec, label string) int64 {
	m := &dto.Metric{}
	if err := vec.WithLabelValues(label).Write(m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

func counterGetVec(vec *prometheus.CounterVec, labels ...string) int64 {
	m := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}
