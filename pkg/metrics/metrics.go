package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Query engine metrics
	QueriesClassified *prometheus.CounterVec
	QueryLatency      *prometheus.HistogramVec
	IsolationAborts   prometheus.Counter
	PartialFailures   prometheus.Counter

	// Summarization metrics
	SummaryCacheHits    prometheus.Counter
	SummaryCacheMisses  prometheus.Counter
	TierGenerated       *prometheus.CounterVec
	GapEncountersFolded prometheus.Histogram

	// External call metrics
	UpstreamCalls    *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
	UpstreamTimeouts *prometheus.CounterVec
	UpstreamRetries  *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		QueriesClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queries_classified_total",
			Help:      "Queries by classification outcome",
		}, []string{"query_type"}),
		QueryLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query handling latency by strategy",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"strategy"}),
		IsolationAborts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "isolation_aborts_total",
			Help:      "Requests aborted because a semantic query lacked patient scope",
		}),
		PartialFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "partial_failures_total",
			Help:      "Sub-query failures attached to otherwise successful answers",
		}),
		SummaryCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "summary_cache_hits_total",
			Help:      "Summary record lookups served from the in-process cache",
		}),
		SummaryCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "summary_cache_misses_total",
			Help:      "Summary record lookups that went to the store",
		}),
		TierGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tier_summaries_generated_total",
			Help:      "Summary records persisted by tier and outcome (created, exists)",
		}, []string{"tier", "outcome"}),
		GapEncountersFolded: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "gap_encounters_folded",
			Help:      "Encounters folded per progressive-merge gap generation",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		UpstreamCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upstream_calls_total",
			Help:      "External calls by upstream and status",
		}, []string{"upstream", "status"}),
		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upstream_duration_seconds",
			Help:      "External call latency by upstream",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"upstream"}),
		UpstreamTimeouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upstream_timeouts_total",
			Help:      "External calls that exceeded their per-call timeout",
		}, []string{"upstream"}),
		UpstreamRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upstream_retries_total",
			Help:      "Retries issued after an upstream timeout",
		}, []string{"upstream"}),
	}
}
