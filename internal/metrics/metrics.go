// Package metrics exposes Prometheus instrumentation for the sequencer core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActionsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_actions_sent_total",
			Help: "Actions dispatched successfully, by channel",
		},
		[]string{"channel"},
	)

	ActionsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_actions_failed_total",
			Help: "Action dispatch failures, by channel",
		},
		[]string{"channel"},
	)

	QueueClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_queue_claimed_total",
			Help: "Queue items claimed by workers",
		},
	)

	QueueRetried = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_queue_retried_total",
			Help: "Queue items requeued after a transient failure",
		},
	)

	QueueReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_queue_reclaimed_total",
			Help: "Stale processing items reclaimed past the lease timeout",
		},
	)

	RateLimitDeferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_rate_limit_deferred_total",
			Help: "Dispatches deferred to a later window by the rate limiter",
		},
	)

	AccountsDisabled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_accounts_disabled_total",
			Help: "Sending accounts auto-disabled after consecutive errors",
		},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_dispatch_duration_seconds",
			Help:    "Channel adapter dispatch latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)
)

// Init registers all collectors with the default registry.
// Call once from the process entry point.
func Init() {
	prometheus.MustRegister(
		ActionsSent,
		ActionsFailed,
		QueueClaimed,
		QueueRetried,
		QueueReclaimed,
		RateLimitDeferred,
		AccountsDisabled,
		DispatchDuration,
	)
}
