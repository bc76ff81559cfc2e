// Package metrics exports Prometheus counters for token lifecycle events,
// sweeps, callbacks and HTTP requests.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tendant/simple-token/pkg/simpletoken"
)

const namespace = "simpletoken"

// Metrics holds every collector registered by the service.
type Metrics struct {
	tokensIssued      *prometheus.CounterVec
	tokenTransitions  *prometheus.CounterVec
	tokensExpired     prometheus.Counter
	sweepRuns         *prometheus.CounterVec
	sweepDuration     prometheus.Histogram
	callbacks         *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpRequestLength *prometheus.HistogramVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer to
// expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		tokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued, by kind and initial status",
		}, []string{"kind", "status"}),
		tokenTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_transitions_total",
			Help:      "Token status transitions",
		}, []string{"from", "to"}),
		tokensExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_expired_total",
			Help:      "Tokens reclaimed by the expiration sweep",
		}),
		sweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Expiration sweeps, by result",
		}, []string{"result"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiration sweeps in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Upload callbacks, by verification result",
		}, []string{"result"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status",
		}, []string{"method", "route", "status"}),
		httpRequestLength: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// EventSink returns a simpletoken.EventSink that counts lifecycle events.
func (m *Metrics) EventSink() simpletoken.EventSink {
	return &eventSink{m: m}
}

type eventSink struct {
	m *Metrics
}

func (e *eventSink) TokenIssued(ctx context.Context, token *simpletoken.Token) error {
	e.m.tokensIssued.WithLabelValues(string(token.Kind), string(token.Status)).Inc()
	return nil
}

func (e *eventSink) TokenTransitioned(ctx context.Context, token *simpletoken.Token, from simpletoken.TokenStatus) error {
	e.m.tokenTransitions.WithLabelValues(string(from), string(token.Status)).Inc()
	return nil
}

func (e *eventSink) TokensExpired(ctx context.Context, count int64) error {
	e.m.tokensExpired.Add(float64(count))
	return nil
}

// ObserveSweep records one sweep run.
func (m *Metrics) ObserveSweep(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(duration.Seconds())
}

// ObserveCallback records an upload callback outcome such as "verified" or "rejected".
func (m *Metrics) ObserveCallback(result string) {
	m.callbacks.WithLabelValues(result).Inc()
}

// Middleware counts requests by chi route pattern, keeping label cardinality
// independent of token ids.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		m.httpRequestLength.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
