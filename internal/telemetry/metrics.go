package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// TransactionsTotal counts orchestrator outcomes by operation and resulting status.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transactions_total",
		Help: "Payment operations by operation and resulting status.",
	}, []string{"operation", "status"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_duration_seconds",
		Help:    "Latency of payment provider calls.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation", "outcome"})

	IdempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_idempotent_replays_total",
		Help: "Requests answered from a stored idempotency record.",
	})

	IdempotencyConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_idempotency_conflicts_total",
		Help: "Requests rejected because the key was used with a different body.",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Webhook events by stage and outcome.",
	}, []string{"stage", "outcome"})
)

type requestTimer struct {
	method string
	route  string
	start  time.Time
}

func newRequestTimer(method, route string) requestTimer {
	return requestTimer{method: method, route: route, start: time.Now()}
}

func (t requestTimer) observe(status int) {
	httpRequestDuration.WithLabelValues(t.method, t.route, strconv.Itoa(status)).
		Observe(time.Since(t.start).Seconds())
}
