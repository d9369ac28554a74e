// Package monitoring exposes Prometheus metrics and the health report for
// the preview server.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meread"

// Metrics owns a private registry so several servers (and tests) can coexist
// in one process.
type Metrics struct {
	registry *prometheus.Registry

	rebuildsTotal   *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
	reloadsTotal    prometheus.Counter
	deliveriesTotal prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        prometheus.Gauge
}

// NewMetrics creates and registers all collectors. subscribers reports the
// current number of reload connections and may be nil.
func NewMetrics(subscribers func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "render",
				Name:      "rebuilds_total",
				Help:      "Total number of document rebuilds by result",
			},
			[]string{"result"},
		),
		rebuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "render",
				Name:      "rebuild_duration_seconds",
				Help:      "Duration of document rebuilds in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
		reloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reload",
				Name:      "published_total",
				Help:      "Total reload tokens published",
			},
		),
		deliveriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reload",
				Name:      "deliveries_total",
				Help:      "Total reload tokens queued for subscribers",
			},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path", "method", "status"},
		),
		httpInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "In-flight HTTP requests",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rebuildsTotal,
		m.rebuildDuration,
		m.reloadsTotal,
		m.deliveriesTotal,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpInflight,
	)

	if subscribers != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "reload",
				Name:      "subscribers",
				Help:      "Currently connected reload clients",
			},
			func() float64 { return float64(subscribers()) },
		))
	}

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRebuild records one rebuild attempt.
func (m *Metrics) ObserveRebuild(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.rebuildsTotal.WithLabelValues(result).Inc()
	m.rebuildDuration.Observe(duration.Seconds())
}

// ObserveReload records a published reload token and how many subscribers
// it was queued for.
func (m *Metrics) ObserveReload(delivered int) {
	m.reloadsTotal.Inc()
	m.deliveriesTotal.Add(float64(delivered))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware instruments requests. Labels use the chi route pattern to keep
// cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		m.httpInflight.Inc()
		defer func() {
			m.httpInflight.Dec()

			// The pattern is only complete once routing has finished.
			path := routePatternOrPath(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			statusLabel := strconv.Itoa(status)
			m.httpRequestsTotal.WithLabelValues(path, r.Method, statusLabel).Inc()
			m.httpRequestDuration.WithLabelValues(path, r.Method, statusLabel).Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
