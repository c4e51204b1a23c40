// Package metrics exposes Prometheus counters for the reviewer server.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/reviewer/internal/ingest"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reviewer_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	Replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewer_replies_total",
			Help: "Chat replies generated, by kind",
		},
		[]string{"kind"},
	)

	IngestRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewer_ingest_rejections_total",
			Help: "Knowledge inputs rejected by validation, by reason",
		},
		[]string{"reason"},
	)

	QuestionsExtracted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reviewer_questions_extracted_total",
			Help: "Questions extracted from fed knowledge",
		},
	)
)

// Registry holds every reviewer collector plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		RequestCounter,
		RequestDuration,
		Replies,
		IngestRejections,
		QuestionsExtracted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ReasonFor maps an ingest validation error to a rejection label.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, ingest.ErrExtension):
		return "extension"
	case errors.Is(err, ingest.ErrTooLarge):
		return "too_large"
	case errors.Is(err, ingest.ErrBinary):
		return "binary"
	case errors.Is(err, ingest.ErrEmpty):
		return "empty"
	default:
		return "other"
	}
}

// Middleware records request counts and durations labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
