package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dispatchTotal counts finished dispatches by overall status.
	// Labels:
	// - status: "ok", "partial" or "failed"
	// - trigger: "immediate" or "scheduled"
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civimail",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Number of completed dispatches by overall status",
		},
		[]string{"status", "trigger"},
	)

	// recipientOutcomes counts per-recipient submission outcomes.
	recipientOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civimail",
			Subsystem: "dispatch",
			Name:      "recipient_outcomes_total",
			Help:      "Per-recipient SMTP submission outcomes",
		},
		[]string{"outcome"},
	)

	// dispatchDuration tracks how long one dispatch invocation takes.
	dispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "civimail",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Duration of one dispatch invocation",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// schedulerTicks counts scheduler loop iterations.
	schedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "civimail",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Number of scheduler ticks",
		},
	)

	// schedulerClaimed counts jobs claimed for execution.
	schedulerClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "civimail",
			Subsystem: "scheduler",
			Name:      "jobs_claimed_total",
			Help:      "Number of scheduled jobs claimed for execution",
		},
	)

	// authOutcomes counts login attempts.
	// Labels:
	// - outcome: "success" or "failure"
	authOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civimail",
			Subsystem: "auth",
			Name:      "login_total",
			Help:      "Login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// rateLimitExceeded counts HTTP 429 events from the rate limit middleware.
	rateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civimail",
			Subsystem: "http",
			Name:      "rate_limit_exceeded_total",
			Help:      "Number of requests rejected due to rate limiting (HTTP 429)",
		},
		[]string{"endpoint", "source"},
	)
)

func IncDispatch(status, trigger string)        { dispatchTotal.WithLabelValues(status, trigger).Inc() }
func IncRecipientOutcome(outcome string)        { recipientOutcomes.WithLabelValues(outcome).Inc() }
func ObserveDispatchDuration(seconds float64)   { dispatchDuration.Observe(seconds) }
func IncSchedulerTick()                         { schedulerTicks.Inc() }
func AddJobsClaimed(n int)                      { schedulerClaimed.Add(float64(n)) }
func IncLogin(outcome string)                   { authOutcomes.WithLabelValues(outcome).Inc() }
func IncRateLimitExceeded(endpoint, src string) { rateLimitExceeded.WithLabelValues(endpoint, src).Inc() }
