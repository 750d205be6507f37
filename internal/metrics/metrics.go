// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

// Package metrics exposes Prometheus instrumentation for every pipeline
// the orchestrator runs and every anomaly the monitor detects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultkeeper_pipeline_runs_total",
			Help: "Total pipeline runs by pipeline name and terminal status",
		},
		[]string{"pipeline", "status"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vaultkeeper_pipeline_duration_seconds",
			Help:    "Duration of a full pipeline run",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"pipeline"},
	)

	BackupSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vaultkeeper_backup_size_bytes",
			Help:    "Final (compressed, encrypted) size of produced backup artifacts",
			Buckets: prometheus.ExponentialBuckets(1<<20, 2, 12), // 1MiB .. 2GiB
		},
		[]string{"kind"},
	)

	CompressionRatio = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vaultkeeper_compression_ratio",
			Help:    "1 - compressed/original, per backup kind",
			Buckets: []float64{0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95},
		},
		[]string{"kind"},
	)

	StorageUploadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultkeeper_storage_upload_errors_total",
			Help: "Upload failures per storage backend",
		},
		[]string{"backend"},
	)

	StorageUsagePercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vaultkeeper_storage_usage_percent",
			Help: "Percent of capacity used, per storage backend that reports usage",
		},
		[]string{"backend"},
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultkeeper_alerts_created_total",
			Help: "Alerts created by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	LockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultkeeper_lock_contention_total",
			Help: "Lock-already-held occurrences by lock scope",
		},
		[]string{"scope"},
	)

	RestoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vaultkeeper_restore_duration_seconds",
			Help:    "Duration of a restore attempt",
			Buckets: []float64{5, 30, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"mode"},
	)

	IntegrityCheckFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultkeeper_integrity_check_failures_total",
			Help: "Storage-integrity sweep failures by failure kind",
		},
		[]string{"reason"},
	)
)
