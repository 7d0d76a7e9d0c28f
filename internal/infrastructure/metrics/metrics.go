package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

const namespace = "identity"

// Recorder owns identityd's Prometheus collectors on a private registry.
// It is an auth.EventSink and provides HTTP instrumentation.
type Recorder struct {
	registry *prometheus.Registry

	authOps      *prometheus.CounterVec
	authDuration *prometheus.HistogramVec

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	buildInfo *prometheus.GaugeVec
}

// New creates and registers all collectors, including the Go runtime and
// process collectors, and sets identity_build_info{version} to 1.
func New(version string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_operations_total",
			Help:      "Authentication operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		authDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auth_operation_seconds",
			Help:      "Authentication operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "identityd build information.",
		}, []string{"version"}),
	}

	r.registry.MustRegister(
		r.authOps, r.authDuration,
		r.httpInFlight, r.httpRequestsTotal, r.httpRequestDuration,
		r.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.buildInfo.WithLabelValues(version).Set(1)

	return r
}

// Registry exposes the registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Emit implements auth.EventSink.
func (r *Recorder) Emit(_ context.Context, ev auth.Event) {
	r.authOps.WithLabelValues(ev.Type, ev.Outcome).Inc()
	r.authDuration.WithLabelValues(ev.Type).Observe(ev.Duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Instrument wraps next with request counting and latency. route returns
// the label for a finished request (the router pattern, not the raw path,
// to keep cardinality bounded); nil uses the raw path.
func (r *Recorder) Instrument(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			r.httpInFlight.Inc()
			defer r.httpInFlight.Dec()

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, req)

			label := req.URL.Path
			if route != nil {
				if p := route(req); p != "" {
					label = p
				}
			}
			status := strconv.Itoa(sw.code)
			r.httpRequestDuration.WithLabelValues(req.Method, label, status).Observe(time.Since(start).Seconds())
			r.httpRequestsTotal.WithLabelValues(req.Method, label, status).Inc()
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
