package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the verification pipeline and the scheduled sweeps. All are
// registered on the default registry and served by the /metrics endpoint.
var (
	VerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_verdicts_total",
		Help: "Terminal claim verdicts by status and reason.",
	}, []string{"status", "reason"})

	VerifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "presence_verify_duration_seconds",
		Help:    "Wall time of one claim verification.",
		Buckets: prometheus.DefBuckets,
	})

	ClaimsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_claims_submitted_total",
		Help: "Claims accepted by the submission endpoint.",
	})

	ClaimsRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_claims_requeued_total",
		Help: "Stuck pending claims re-published by the requeue sweep.",
	})

	SessionsRotated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_sessions_rotated_total",
		Help: "Sessions issued a fresh token by the rotator.",
	})

	SessionsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_sessions_reaped_total",
		Help: "Stale sessions deactivated by the reaper.",
	})

	SweepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_sweep_errors_total",
		Help: "Failed scheduled sweep runs by job name.",
	}, []string{"job"})

	AuditAppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_audit_append_failures_total",
		Help: "Audit log writes that failed and were only logged.",
	})
)
