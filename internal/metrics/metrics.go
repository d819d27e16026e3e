package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autopilot_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	outboxEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_outbox_enqueued_total",
			Help: "Total outbox items enqueued by type",
		},
		[]string{"type"},
	)

	outboxProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_outbox_processed_total",
			Help: "Outbox items handled by a processing pass, by outcome and type",
		},
		[]string{"outcome", "type"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autopilot_dispatch_duration_seconds",
			Help:    "Provider call latency by item type",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"type"},
	)

	deliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autopilot_delivery_latency_seconds",
			Help:    "Time from enqueue (or scheduled time) to sent",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 21600, 86400},
		},
		[]string{"type"},
	)

	automationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_automation_runs_total",
			Help: "Automation runs by trigger and final status",
		},
		[]string{"trigger", "status"},
	)

	tickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autopilot_tick_duration_seconds",
			Help:    "Duration of a cron-triggered pass",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"job"},
	)

	guardrailRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_guardrail_rejections_total",
			Help: "Runs refused because the tenant ran within the guardrail window",
		},
		[]string{"trigger"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "autopilot_idempotency_hits_total",
			Help: "Enqueue requests served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_rate_limit_rejections_total",
			Help: "Requests or dispatches rejected by a rate limiter",
		},
		[]string{"scope"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autopilot_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordEnqueued(itemType string) {
	outboxEnqueued.WithLabelValues(itemType).Inc()
}

// RecordProcessed records one item outcome: sent, failed, skipped or deferred.
func RecordProcessed(outcome, itemType string) {
	outboxProcessed.WithLabelValues(outcome, itemType).Inc()
}

func RecordDispatchDuration(itemType string, d time.Duration) {
	dispatchDuration.WithLabelValues(itemType).Observe(d.Seconds())
}

func RecordDeliveryLatency(itemType string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	deliveryLatency.WithLabelValues(itemType).Observe(d.Seconds())
}

// RecordAutomationRun records a finished run. trigger is "scheduled" or "manual".
func RecordAutomationRun(trigger, status string) {
	automationRuns.WithLabelValues(trigger, status).Inc()
}

func RecordGuardrailRejection(trigger string) {
	guardrailRejections.WithLabelValues(trigger).Inc()
}

func RecordTick(job string, d time.Duration) {
	tickDuration.WithLabelValues(job).Observe(d.Seconds())
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rejection. scope is "api" or "dispatch".
func RecordRateLimitRejection(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. Paths are
// labelled by chi route pattern so ids do not blow up cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
