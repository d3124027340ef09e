// Package metrics exposes Prometheus collectors for the engine. All
// collectors are registered on the default registry; callers expose them
// however they serve their other process metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokenizerFallbacks counts uses of the heuristic token estimate after
	// the exact tokenizer failed or was unavailable.
	TokenizerFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "convene",
		Subsystem: "tokens",
		Name:      "fallbacks_total",
		Help:      "Heuristic token estimates used in place of exact counts.",
	})

	// CompletionRounds counts backend request/response exchanges by outcome.
	CompletionRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convene",
		Subsystem: "completion",
		Name:      "rounds_total",
		Help:      "Completion rounds by outcome (continue, done, failed).",
	}, []string{"outcome"})

	// CompletionFailures counts terminal failures by classified error kind.
	CompletionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convene",
		Subsystem: "completion",
		Name:      "failures_total",
		Help:      "Terminal completion failures by error kind.",
	}, []string{"kind"})

	// CompletionRetries counts retried structured backend errors.
	CompletionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "convene",
		Subsystem: "completion",
		Name:      "retries_total",
		Help:      "Structured backend errors that were retried.",
	})

	// TurnDuration observes wall-clock time for a full turn, all rounds
	// included.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "convene",
		Subsystem: "engine",
		Name:      "turn_duration_seconds",
		Help:      "Duration of a full conversation turn.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// RetrievalMatches observes how many long-term-memory candidates a
	// relevance query produced after position mapping.
	RetrievalMatches = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "convene",
		Subsystem: "memory",
		Name:      "retrieval_matches",
		Help:      "Mapped relevance matches per retrieval.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})
)
