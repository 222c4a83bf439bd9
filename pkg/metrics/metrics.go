// Package metrics exposes Prometheus collectors for the activity engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	explorerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evm_activity",
		Subsystem: "explorer",
		Name:      "requests_total",
		Help:      "Count of block-explorer txlist requests by outcome.",
	}, []string{"chain", "outcome"})
	explorerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "evm_activity",
		Subsystem: "explorer",
		Name:      "request_duration_seconds",
		Help:      "Duration of block-explorer txlist requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"chain", "outcome"})

	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evm_activity",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Activity cache lookups by result.",
	}, []string{"chain", "result"})

	monthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evm_activity",
		Subsystem: "checker",
		Name:      "month_checks_total",
		Help:      "Resolved month checks by verdict.",
	}, []string{"chain", "month", "verdict"})

	chunksProbedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evm_activity",
		Subsystem: "scanner",
		Name:      "chunks_probed_total",
		Help:      "Block chunks sent to the explorer.",
	}, []string{"chain"})
)

// Explorer outcomes
const (
	OutcomeActive = "active"
	OutcomeEmpty  = "empty"
	OutcomeError  = "error"
)

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// ObserveExplorerRequest records a single explorer call outcome and duration.
func ObserveExplorerRequest(chain, outcome string, started time.Time) {
	explorerRequestsTotal.WithLabelValues(label(chain), outcome).Inc()
	explorerRequestDuration.WithLabelValues(label(chain), outcome).Observe(time.Since(started).Seconds())
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(chain string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(label(chain), result).Inc()
}

// ObserveMonthCheck records the verdict of a month check.
func ObserveMonthCheck(chain, month string, hasActivity bool, err error) {
	verdict := "inactive"
	switch {
	case err != nil:
		verdict = "error"
	case hasActivity:
		verdict = "active"
	}
	monthChecksTotal.WithLabelValues(label(chain), label(month), verdict).Inc()
}

// AddChunksProbed counts chunks handed to the explorer.
func AddChunksProbed(chain string, n int) {
	chunksProbedTotal.WithLabelValues(label(chain)).Add(float64(n))
}
