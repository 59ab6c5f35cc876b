package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for webhook ingress and reconciliation sessions
var (
	WebhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlewatch_webhook_requests_total",
			Help: "Total number of webhook requests by result",
		},
		[]string{"result"},
	)

	SessionOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlewatch_session_outcomes_total",
			Help: "Total number of reconciliation outcomes by state and source",
		},
		[]string{"state", "source"},
	)

	PollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlewatch_polls_total",
			Help: "Total number of status polls issued",
		},
	)

	PollFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlewatch_poll_failures_total",
			Help: "Total number of failed status polls",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlewatch_active_sessions",
			Help: "Number of reconciliation sessions currently watching",
		},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlewatch_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method", "code"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(WebhookRequestsTotal)
		prometheus.MustRegister(SessionOutcomesTotal)
		prometheus.MustRegister(PollsTotal)
		prometheus.MustRegister(PollFailuresTotal)
		prometheus.MustRegister(ActiveSessions)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}
