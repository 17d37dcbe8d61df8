// Package qcmetrics exposes Prometheus instrumentation for the QC
// pipeline. Callers that embed flowqc in a service get these series for
// free through the default registry.
package qcmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts completed QC runs by mode and outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowqc_runs_total",
			Help: "Total number of QC runs",
		},
		[]string{"mode", "status"},
	)

	// StageDuration observes wall time per pipeline stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowqc_stage_duration_seconds",
			Help:    "QC pipeline stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"stage"},
	)

	// GPUFallbacks counts spectrum multiplies that degraded to the CPU
	// path after a GPU failure.
	GPUFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowqc_gpu_fallbacks_total",
			Help: "Total number of GPU-to-CPU fallbacks during density estimation",
		},
	)

	// EventsRemoved counts events discarded by QC across all runs.
	EventsRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowqc_events_removed_total",
			Help: "Total number of events removed by QC",
		},
	)

	// BinsFlagged counts outlier bins by the stage that flagged them.
	BinsFlagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowqc_bins_flagged_total",
			Help: "Total number of bins flagged as outliers, by stage",
		},
		[]string{"stage"},
	)
)
