package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "douly_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "douly_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "douly_turns_total",
			Help: "Conversation turns by outcome (answered, fallback, busy, empty).",
		},
		[]string{"outcome"},
	)

	RemoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "douly_remote_call_duration_seconds",
			Help:    "Latency of calls to the hosted model, by service.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"service"},
	)

	SpeechTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "douly_speech_total",
			Help: "Speech synthesis attempts by status.",
		},
		[]string{"status"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "douly_notifications_total",
			Help: "Lead notifications by status.",
		},
		[]string{"status"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "douly_active_sessions",
			Help: "Number of sessions held in memory.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TurnsTotal,
		RemoteCallDuration,
		SpeechTotal,
		NotificationsTotal,
		ActiveSessions,
	)
}
