// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GenerationAttempts counts relay attempts by terminal result.
	GenerationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_attempts_total",
		Help: "Generation stream attempts by result (success, timeout, empty, error).",
	}, []string{"result"})

	// GenerationRetries counts attempts that were followed by a retry
	// against the next model candidate.
	GenerationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "generation_retries_total",
		Help: "Retries issued against a further model candidate.",
	})

	// AttemptDuration observes wall time of one relay attempt.
	AttemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "generation_attempt_duration_seconds",
		Help:    "Duration of a single generation stream attempt.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// ApplyResults counts sandbox apply calls by outcome.
	ApplyResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbox_apply_total",
		Help: "Sandbox apply calls by outcome (success, rejected, zero_files, truncated, no_blocks).",
	}, []string{"outcome"})

	// VerificationRepairs counts corrective patches issued by the
	// post-apply verifier.
	VerificationRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apply_verification_repairs_total",
		Help: "Post-apply verification repairs by result (repaired, failed).",
	}, []string{"result"})
)
