package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shadowplay_sessions_created_total",
		Help: "Capture sessions created",
	})

	SegmentsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shadowplay_segments_ingested_total",
		Help: "Pose segments accepted into sessions",
	})

	SegmentsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowplay_segments_rejected_total",
		Help: "Pose segments rejected at validation",
	}, []string{"reason"})

	RendersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shadowplay_renders_active",
		Help: "Renders currently running",
	})

	RendersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowplay_renders_total",
		Help: "Finished renders by outcome",
	}, []string{"outcome"})

	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shadowplay_render_duration_seconds",
		Help:    "Wall time of a full render, probe to final rename",
		Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
	})

	CleanupFilesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shadowplay_cleanup_files_deleted_total",
		Help: "Files removed by retention sweeps and eviction",
	})

	CleanupBytesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shadowplay_cleanup_bytes_freed_total",
		Help: "Bytes reclaimed by retention sweeps and eviction",
	})

	DiskFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shadowplay_disk_free_bytes",
		Help: "Free bytes on the output volume at last check",
	})
)
