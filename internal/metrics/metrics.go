package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portfolio_gate"

var (
	// LoginAttempts counts login requests by outcome.
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Login requests by outcome.",
	}, []string{"outcome"})

	// Logouts counts logout requests.
	Logouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logouts_total",
		Help:      "Logout requests.",
	})

	// TokenVerifications counts protected-page token checks by result.
	TokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_verifications_total",
		Help:      "Protected-page token checks by result.",
	}, []string{"result"})

	// LogWriteFailures counts access log appends that failed.
	LogWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_write_failures_total",
		Help:      "Access log appends that failed.",
	})

	// LogEntriesDropped counts access log entries discarded before writing.
	LogEntriesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_entries_dropped_total",
		Help:      "Access log entries discarded before writing.",
	}, []string{"reason"})

	// RateEntries is a gauge for currently tracked rate-limit identities.
	RateEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rate_entries",
		Help:      "Currently tracked rate-limit identities.",
	})

	// LogPartitionBytes tracks the current access log partition size on disk.
	LogPartitionBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "log_partition_bytes",
		Help:      "Current access log partition size in bytes.",
	})

	// LoginDuration records login request handling latency, including the
	// anti-timing delay.
	LoginDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "login_duration_seconds",
		Help:      "Login request handling latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 1.0, 2.5},
	})
)

// Login outcome label values.
const (
	OutcomeSuccess          = "success"
	OutcomeInvalidPassword  = "invalid_password"
	OutcomeMissingPassword  = "missing_password"
	OutcomeRateLimited      = "rate_limited"
	OutcomeMisconfigured    = "misconfigured"
	OutcomeMethodNotAllowed = "method_not_allowed"
)
