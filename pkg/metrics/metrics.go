// Package metrics defines the Prometheus metrics exported by the qopy
// server. All metrics register on the default registry and are served by the
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upload pipeline.

	UploadsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qopy_uploads_initiated_total",
		Help: "Upload sessions created",
	})

	ChunksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qopy_chunks_received_total",
		Help: "Chunks successfully persisted, including idempotent retries",
	})

	UploadsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qopy_uploads_completed_total",
		Help: "Upload sessions assembled into clips",
	})

	UploadsAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qopy_uploads_aborted_total",
		Help: "Upload sessions aborted by the client",
	})

	UploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qopy_upload_bytes",
		Help:    "Declared filesize of completed uploads",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})

	// Clip lifecycle.

	ClipsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qopy_clips_created_total",
		Help: "Clips published, by content type",
	}, []string{"content_type"})

	ClipsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qopy_clips_served_total",
		Help: "Clip payloads served, by content type",
	}, []string{"content_type"})

	OneTimeConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qopy_one_time_consumed_total",
		Help: "One-time clips destroyed on first read",
	})

	// Guard.

	GuardBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qopy_guard_blocked_total",
		Help: "Lookups refused because the client IP is brute-force blocked",
	})

	GuardRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qopy_guard_rate_limited_total",
		Help: "Requests refused by a per-IP token bucket",
	})

	// Sweeper.

	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qopy_sweep_runs_total",
		Help: "Sweeper passes executed",
	})

	SweptClips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qopy_swept_clips_total",
		Help: "Expired clips removed by the sweeper",
	})

	SweptSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qopy_swept_sessions_total",
		Help: "Dead upload sessions removed by the sweeper",
	})

	SweptOrphans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qopy_swept_orphans_total",
		Help: "Orphaned chunk directories and blobs removed by the sweeper",
	})
)
