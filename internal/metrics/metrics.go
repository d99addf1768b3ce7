package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Inbound deliveries by outcome: stored, duplicate, in_progress, invalid, error.
	InboundReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostpenny_inbound_emails_total",
			Help: "Inbound email deliveries by outcome",
		},
		[]string{"source", "outcome"},
	)

	// Relay attempts by outcome: forwarded, failed, skipped.
	ForwardAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostpenny_forward_attempts_total",
			Help: "Forwarding relay attempts by outcome",
		},
		[]string{"outcome"},
	)

	ForwardDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostpenny_forward_duration_seconds",
			Help:    "SMTP relay duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostpenny_notifications_total",
			Help: "Outbound notification and reply sends by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostpenny_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "route", "status"},
	)
)

func RecordInbound(source, outcome string) {
	InboundReceived.WithLabelValues(source, outcome).Inc()
}

func RecordForward(outcome string, duration time.Duration) {
	ForwardAttempts.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		ForwardDuration.Observe(duration.Seconds())
	}
}

func RecordNotification(provider, outcome string) {
	NotificationsSent.WithLabelValues(provider, outcome).Inc()
}

func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}
