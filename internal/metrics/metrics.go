// Package metrics provides Prometheus metrics for storyline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storyline"

var (
	// IndexBuildsTotal counts index builds by result ("ok", "error", "panic").
	IndexBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Total number of index builds",
		},
		[]string{"result"},
	)

	// IndexBuildSeconds measures successful build duration.
	IndexBuildSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_build_seconds",
			Help:      "Duration of index builds in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Clusters is the cluster count of the current index per language.
	Clusters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clusters",
			Help:      "Clusters in the current index",
		},
		[]string{"lang"},
	)

	// DocumentsIndexed is the document count of the current index.
	DocumentsIndexed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "documents_indexed",
			Help:      "Documents in the current index",
		},
	)

	// StaleRemovedTotal counts documents deleted for an expired TTL.
	StaleRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_removed_total",
			Help:      "Total number of stale documents removed",
		},
	)

	// MergesTotal counts single-linkage merge decisions.
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Total number of merge decisions by outcome",
		},
		[]string{"lang", "outcome"},
	)

	// HTTPRequestsTotal counts served requests by route pattern and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)
)

// RecordBuild records a finished build.
func RecordBuild(result string, d time.Duration) {
	IndexBuildsTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		IndexBuildSeconds.Observe(d.Seconds())
	}
}

// RecordIndex publishes the size of a freshly swapped index.
func RecordIndex(clustersByLang map[string]int, docs int) {
	for lang, n := range clustersByLang {
		Clusters.WithLabelValues(lang).Set(float64(n))
	}
	DocumentsIndexed.Set(float64(docs))
}

// RecordMerge records one merge decision.
func RecordMerge(lang, outcome string) {
	MergesTotal.WithLabelValues(lang, outcome).Inc()
}

// RecordRequest records a served HTTP request.
func RecordRequest(route string, code int) {
	HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
