package services

import "github.com/prometheus/client_golang/prometheus"

// Status labels for authentication metrics.
const (
	StatusSuccess            = "success"
	StatusInvalidCredentials = "invalid_credentials"
	StatusRateLimited        = "rate_limited"
	StatusError              = "error"
)

// LoginAttempts counts credential authentication outcomes.
// Use RegisterMetrics to register this with a Prometheus registry.
var LoginAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "paperdesk_auth_login_attempts_total",
		Help: "Total number of credential authentication attempts",
	},
	[]string{"status"},
)

// SweepDeletions counts expired/consumed records removed by the periodic sweep.
// Use RegisterMetrics to register this with a Prometheus registry.
var SweepDeletions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "paperdesk_auth_sweep_deletions_total",
		Help: "Total number of expired records removed by the sweep",
	},
	[]string{"kind"},
)

// RefreshReuseDetected counts refresh-token reuse events, each of which
// revokes a whole session family.
var RefreshReuseDetected = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "paperdesk_auth_refresh_reuse_detected_total",
		Help: "Total number of refresh-token reuse detections",
	},
)

// RegisterMetrics registers auth service metrics with the given Prometheus
// registry. This must be called at startup to make metrics available on
// /metrics. Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginAttempts)
	reg.MustRegister(SweepDeletions)
	reg.MustRegister(RefreshReuseDetected)
}
