// internal/common/metrics/metrics.go
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aptitude_backend_requests_total",
			Help: "Total number of scoring backend requests by outcome",
		},
		[]string{"endpoint", "status"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aptitude_backend_request_duration_seconds",
			Help:    "Duration of scoring backend requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	BackendAuthFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aptitude_backend_auth_fallbacks_total",
			Help: "Requests retried with a bearer token after cookie auth was rejected",
		},
		[]string{"endpoint"},
	)
)

// StatusNetworkError labels requests that never received an HTTP response.
const StatusNetworkError = "network_error"

// ObserveRequest records one finished backend call. status is the HTTP code,
// or 0 when the transport failed.
func ObserveRequest(endpoint string, status int, elapsed time.Duration) {
	label := StatusNetworkError
	if status > 0 {
		label = strconv.Itoa(status)
	}
	BackendRequests.WithLabelValues(endpoint, label).Inc()
	BackendRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}
