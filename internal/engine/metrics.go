package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// updatesTotal counts region updates by outcome
	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osm_analytics_updates_total",
		Help: "Total region updates by result",
	}, []string{"result"}) // "ok", "stale", "region_error", "fetch_error"

	// fetchDuration tracks per-layer search latency
	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "osm_analytics_fetch_duration_seconds",
		Help:    "Layer feature search duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"layer"})

	// malformedBinsTotal counts sampled bins skipped during aggregation
	malformedBinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "osm_analytics_malformed_bins_total",
		Help: "Total sampled bins skipped because their sample arrays were malformed",
	})

	// snapshotsPublished counts published snapshots by trigger
	snapshotsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osm_analytics_snapshots_published_total",
		Help: "Total snapshots published by trigger",
	}, []string{"trigger"}) // "update", "filters", "units", "hot_projects"
)
