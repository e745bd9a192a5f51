package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the metrics endpoint.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "regctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	iqRoundTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regctl",
			Subsystem: "xmpp",
			Name:      "iq_roundtrips_total",
			Help:      "IQ request/response round trips by IQ type and result.",
		},
		[]string{"type", "result"},
	)
	iqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "regctl",
			Subsystem: "xmpp",
			Name:      "iq_roundtrip_duration_seconds",
			Help:      "IQ round-trip latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)
	registrationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regctl",
			Subsystem: "registration",
			Name:      "outcomes_total",
			Help:      "Terminal registration outcomes.",
		},
		[]string{"outcome", "form"},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regctl",
			Subsystem: "xmpp",
			Name:      "connect_attempts_total",
			Help:      "Stream connect attempts by result.",
		},
		[]string{"success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, iqRoundTrips, iqDuration, registrationOutcomes, connectAttempts)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordRoundTrip records one IQ exchange. result is the response type
// ("result", "error") or a local outcome such as "timeout" or "aborted".
func RecordRoundTrip(iqType, result string, duration time.Duration) {
	RegisterMetrics()
	iqRoundTrips.WithLabelValues(iqType, result).Inc()
	if duration > 0 {
		iqDuration.WithLabelValues(iqType).Observe(duration.Seconds())
	}
}

func RecordOutcome(outcome, form string) {
	RegisterMetrics()
	registrationOutcomes.WithLabelValues(outcome, form).Inc()
}

func RecordConnectAttempt(success bool) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(strconv.FormatBool(success)).Inc()
}
