// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

// Package monitor implements the five anomaly detectors that run after a
// pipeline's terminal transition (or stand alone, for capacity checks and
// the alert digest): failure, size deviation, duration deviation, storage
// capacity, and integrity failure.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/logging"
	"github.com/vaultkeeper/engine/internal/metrics"
	"github.com/vaultkeeper/engine/internal/storage"
)

const (
	sizeDeviationThreshold     = 0.20
	sizeDeviationCritical      = 0.50
	durationDeviationThreshold = 0.5
	durationDeviationCritical  = 1.0
	storageCapacityWarning     = 0.80
	storageCapacityCritical    = 0.90
	sampleWindow               = 7 * 24 * time.Hour
	sampleSize                 = 10
)

// Monitor creates Alert records for anomalies and forwards each one to a
// Notifier. The names of the channels that succeeded are set on the
// in-memory Alert only; of the notification outcome, just
// notification_sent_at is written back to the Catalog.
type Monitor struct {
	store    *catalog.Store
	notifier Notifier
}

func New(store *catalog.Store, notifier Notifier) *Monitor {
	return &Monitor{store: store, notifier: notifier}
}

// CheckBackupOutcome runs the Failure, SizeDeviation and DurationDeviation
// detectors against a just-finished BackupRecord.
func (m *Monitor) CheckBackupOutcome(ctx context.Context, b *catalog.BackupRecord) {
	if b.Status == catalog.StatusFailed {
		m.raise(ctx, catalog.AlertBackupFailure, catalog.SeverityCritical,
			fmt.Sprintf("backup %s failed", b.ID), map[string]any{"backup_id": b.ID}, b.ID, "")
		return
	}

	avgSize, avgDuration, n, err := m.store.AverageSizeAndDuration(ctx, b.Kind, time.Now().Add(-sampleWindow), b.ID, sampleSize)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("monitor: average size/duration lookup failed")
		return
	}
	if n == 0 {
		return
	}

	if avgSize > 0 {
		deviation := absFloat(float64(b.SizeBytes)-avgSize) / avgSize
		if deviation > sizeDeviationThreshold {
			severity := catalog.SeverityWarning
			if deviation > sizeDeviationCritical {
				severity = catalog.SeverityCritical
			}
			m.raise(ctx, catalog.AlertSizeDeviation, severity,
				fmt.Sprintf("backup %s size deviates %.0f%% from the %d-sample mean", b.ID, deviation*100, n),
				map[string]any{"backup_id": b.ID, "size_bytes": b.SizeBytes, "mean_size_bytes": avgSize}, b.ID, "")
		}
	}

	if avgDuration > 0 && b.DurationSeconds > avgDuration {
		deviation := (b.DurationSeconds - avgDuration) / avgDuration
		if deviation > durationDeviationThreshold {
			severity := catalog.SeverityWarning
			if deviation > durationDeviationCritical {
				severity = catalog.SeverityCritical
			}
			m.raise(ctx, catalog.AlertDurationThreshold, severity,
				fmt.Sprintf("backup %s duration deviates %.0f%% above the %d-sample mean", b.ID, deviation*100, n),
				map[string]any{"backup_id": b.ID, "duration_seconds": b.DurationSeconds, "mean_duration_seconds": avgDuration}, b.ID, "")
		}
	}
}

// RaiseTenantBackupFailure records a per-tenant backup failure inside a
// batch run. Per §4.6.2 this is an ERROR alert, one severity step below
// the CRITICAL the generic Failure detector raises, since a single
// tenant's failure does not abort the rest of the batch.
func (m *Monitor) RaiseTenantBackupFailure(ctx context.Context, b *catalog.BackupRecord) {
	m.raise(ctx, catalog.AlertBackupFailure, catalog.SeverityError,
		fmt.Sprintf("tenant backup %s (tenant %s) failed", b.ID, b.TenantID),
		map[string]any{"backup_id": b.ID, "tenant_id": b.TenantID}, b.ID, "")
}

// CheckRestoreOutcome runs the Failure detector against a just-finished
// RestoreRecord.
func (m *Monitor) CheckRestoreOutcome(ctx context.Context, r *catalog.RestoreRecord) {
	if r.Status != catalog.RestoreFailed {
		return
	}
	m.raise(ctx, catalog.AlertRestoreFailure, catalog.SeverityCritical,
		fmt.Sprintf("restore %s failed", r.ID), map[string]any{"restore_id": r.ID, "error": r.ErrorMessage}, "", r.ID)
}

// CheckStorageCapacity runs the storage-capacity detector across every
// backend that reports real usage numbers.
func (m *Monitor) CheckStorageCapacity(ctx context.Context, backends map[string]storage.Backend) {
	for name, backend := range backends {
		usage, ok, err := backend.GetStorageUsage(ctx)
		if err != nil || !ok || usage.TotalBytes == 0 {
			continue
		}
		ratio := float64(usage.UsedBytes) / float64(usage.TotalBytes)
		metrics.StorageUsagePercent.WithLabelValues(name).Set(ratio * 100)
		if ratio <= storageCapacityWarning {
			continue
		}
		severity := catalog.SeverityWarning
		if ratio > storageCapacityCritical {
			severity = catalog.SeverityCritical
		}
		m.raise(ctx, catalog.AlertStorageCapacity, severity,
			fmt.Sprintf("storage backend %s is %.0f%% full", name, ratio*100),
			map[string]any{"backend": name, "used_bytes": usage.UsedBytes, "total_bytes": usage.TotalBytes}, "", "")
	}
}

// RaiseIntegrityFailure records the Integrity-failure detector's outcome
// for one backup (invoked from the storage-integrity sweep, §4.6.6).
func (m *Monitor) RaiseIntegrityFailure(ctx context.Context, backupID string, errs []string) {
	m.raise(ctx, catalog.AlertIntegrityFailure, catalog.SeverityError,
		fmt.Sprintf("integrity check failed for backup %s", backupID),
		map[string]any{"backup_id": backupID, "errors": errs}, backupID, "")
}

// RaiseCleanupSummary records the daily cleanup pipeline's outcome as an
// INFO alert (anything removed) or WARNING (any individual delete
// failed), per §4.6.5.
func (m *Monitor) RaiseCleanupSummary(ctx context.Context, severity catalog.AlertSeverity, message string, details map[string]any) {
	m.raise(ctx, catalog.AlertCleanupSummary, severity, message, details, "", "")
}

func (m *Monitor) raise(ctx context.Context, kind catalog.AlertKind, severity catalog.AlertSeverity, message string, details map[string]any, backupID, restoreID string) {
	alert := &catalog.Alert{
		Kind:     kind,
		Severity: severity,
		Message:  message,
		Details:  details,
		BackupID: backupID,
		RestoreID: restoreID,
		Status:   catalog.AlertActive,
	}
	if err := m.store.CreateAlert(ctx, alert); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("kind", string(kind)).Msg("monitor: failed to persist alert")
		return
	}
	metrics.AlertsCreated.WithLabelValues(string(kind), string(severity)).Inc()
	logging.CtxWarn(ctx).Str("alert_id", alert.ID).Str("kind", string(kind)).Msg(message)

	m.notify(ctx, alert)
}

func (m *Monitor) notify(ctx context.Context, alert *catalog.Alert) {
	if m.notifier == nil {
		return
	}
	var channels []string
	if err := m.notifier.CreateInApp(ctx, string(alert.Kind), alert.Message); err == nil {
		channels = append(channels, "in_app")
	}
	if err := m.notifier.PostWebhook(ctx, map[string]any{
		"kind": string(alert.Kind), "severity": string(alert.Severity), "message": alert.Message,
	}); err == nil {
		channels = append(channels, "webhook")
	}
	if len(channels) == 0 {
		return
	}
	alert.NotificationChannels = channels
	now := time.Now().UTC()
	alert.NotificationSentAt = &now
	if err := m.store.MarkAlertNotified(ctx, alert.ID, now); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("alert_id", alert.ID).Msg("monitor: failed to stamp notification_sent_at")
	}
}

// SendAlertDigest composes a rollup of alerts raised within window and
// emails it, the supplemented feature grounded on the original's
// send_alert_digest task (§12). A window with zero alerts is a no-op —
// there is nothing worth emailing.
func (m *Monitor) SendAlertDigest(ctx context.Context, window time.Duration) error {
	total, err := m.store.CountRecentAlerts(ctx, window, "")
	if err != nil {
		return err
	}
	if total == 0 {
		return nil
	}
	byKind, err := m.store.CountAlertsByKind(ctx, window)
	if err != nil {
		return err
	}
	critical, err := m.store.CountRecentAlerts(ctx, window, catalog.SeverityCritical)
	if err != nil {
		return err
	}

	body := fmt.Sprintf("%d alert(s) in the last %s (%d critical):\n", total, window, critical)
	for kind, n := range byKind {
		body += fmt.Sprintf("  %s: %d\n", kind, n)
	}

	if m.notifier == nil {
		logging.CtxInfo(ctx).Int("total", total).Int("critical", critical).Msg("alert digest: no notifier configured, logging only")
		return nil
	}
	return m.notifier.SendEmail(ctx, "vaultkeeper alert digest", body)
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
