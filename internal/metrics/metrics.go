// Package metrics exposes the process Prometheus collectors. Collectors are
// registered on the default registry; the API server serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesAcquired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldscan",
		Name:      "frames_acquired_total",
		Help:      "Frames pulled from the camera session, per stream.",
	}, []string{"stream"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldscan",
		Name:      "frames_dropped_total",
		Help:      "Frames discarded because a newer frame replaced them before use.",
	}, []string{"stream"})

	Captures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldscan",
		Name:      "captures_total",
		Help:      "Capture attempts by type and result.",
	}, []string{"type", "result"})

	BundleArtifacts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldscan",
		Name:      "bundle_artifacts_total",
		Help:      "Image and metadata files written by the persistence sink.",
	})

	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldscan",
		Name:      "storage_bytes_written_total",
		Help:      "Bytes written for still captures.",
	})

	GPSSentences = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldscan",
		Name:      "gps_sentences_total",
		Help:      "NMEA sentences accepted by the reader.",
	})

	GPSParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldscan",
		Name:      "gps_parse_errors_total",
		Help:      "NMEA lines that failed to parse and were skipped.",
	})

	FixAge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fieldscan",
		Name:      "gps_fix_age_seconds",
		Help:      "Seconds since the last published fix, -1 when none.",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fieldscan",
		Name:      "policy_tick_seconds",
		Help:      "Duration of capture policy ticks.",
		Buckets:   prometheus.DefBuckets,
	})

	VideoFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldscan",
		Name:      "video_frames_total",
		Help:      "Frames appended to continuous video writers, per stream.",
	}, []string{"stream"})
)
