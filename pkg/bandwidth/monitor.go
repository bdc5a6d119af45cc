package bandwidth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor tracks HTTP request/response bandwidth and latency
type Monitor struct {
	bytesReceived   *prometheus.CounterVec
	bytesSent       *prometheus.CounterVec
	requestSize     *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec
	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
}

// NewMonitor creates a bandwidth monitor and registers its metrics.
// A nil registerer uses the default Prometheus registry.
func NewMonitor(reg prometheus.Registerer) *Monitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Monitor{
		bytesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lpr_http_request_bytes_total",
				Help: "Total bytes received in HTTP requests",
			},
			[]string{"method", "endpoint"},
		),
		bytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lpr_http_response_bytes_total",
				Help: "Total bytes sent in HTTP responses",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lpr_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),
		responseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lpr_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lpr_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "endpoint"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lpr_http_requests_total",
				Help: "HTTP requests by method, endpoint and status",
			},
			[]string{"method", "endpoint", "status"},
		),
	}

	reg.MustRegister(m.bytesReceived)
	reg.MustRegister(m.bytesSent)
	reg.MustRegister(m.requestSize)
	reg.MustRegister(m.responseSize)
	reg.MustRegister(m.requestDuration)
	reg.MustRegister(m.requestsTotal)

	return m
}

// Middleware returns HTTP middleware that tracks bandwidth and latency
func (m *Monitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := routeTemplate(r)
		method := r.Method

		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		if requestSize > 0 {
			m.bytesReceived.WithLabelValues(method, endpoint).Add(float64(requestSize))
			m.requestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
		}

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		start := time.Now()
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		status := fmt.Sprintf("%d", rw.statusCode)
		m.requestsTotal.WithLabelValues(method, endpoint, status).Inc()
		m.requestDuration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())

		if rw.bytesWritten > 0 {
			m.bytesSent.WithLabelValues(method, endpoint, status).Add(float64(rw.bytesWritten))
			m.responseSize.WithLabelValues(method, endpoint, status).Observe(float64(rw.bytesWritten))
		}
	})
}

// Handler returns the HTTP handler for the default Prometheus registry
func (m *Monitor) Handler() http.Handler {
	return promhttp.Handler()
}

// routeTemplate prefers the mux route template over the raw path so
// parameterized routes (/plates/{id}, /uploads/{name}) do not explode
// label cardinality
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil && tmpl != "" {
			return tmpl
		}
	}
	return r.URL.Path
}

type responseWriter struct {
	http.ResponseWriter
	bytesWritten int
	statusCode   int
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}
