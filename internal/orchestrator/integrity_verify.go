// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/logging"
	"github.com/vaultkeeper/engine/internal/metrics"
)

const (
	integrityVerifyLockTTL    = 20 * time.Minute
	integrityVerifyWindow     = 30 * 24 * time.Hour
	integrityVerifyBatchLimit = 100
)

// IntegrityVerifyReport summarizes one hourly storage-integrity sweep.
type IntegrityVerifyReport struct {
	Checked int
	Failed  int
}

// IntegrityVerify runs the hourly cheap integrity sweep (§4.6.6): for the
// 100 most recent backups from the last 30 days, confirm each non-empty
// path still exists and reports the recorded size. This never
// re-downloads or re-hashes content — that is the job of
// codec.VerifyBackupIntegrity, run right after upload, not this sweep's.
func (o *Orchestrator) IntegrityVerify(ctx context.Context, taskID string) (IntegrityVerifyReport, error) {
	var report IntegrityVerifyReport
	err := o.runLocked(ctx, "hourly_storage_integrity_verify", taskID, integrityVerifyLockTTL, func(ctx context.Context) error {
		report = o.runIntegrityVerify(ctx)
		return nil
	})
	return report, err
}

func (o *Orchestrator) runIntegrityVerify(ctx context.Context) IntegrityVerifyReport {
	var report IntegrityVerifyReport
	since := time.Now().Add(-integrityVerifyWindow)

	backups, err := o.Store.ListBackups(ctx, catalog.BackupFilter{
		CreatedAfter: &since,
		Limit:        integrityVerifyBatchLimit,
	})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("integrity verify: failed to list recent backups")
		return report
	}

	for _, b := range backups {
		report.Checked++
		errs := o.checkBackupIntegrity(ctx, b)

		now := time.Now().UTC()
		if b.Metadata == nil {
			b.Metadata = map[string]any{}
		}
		status := "ok"
		if len(errs) > 0 {
			status = "failed"
		}
		check := map[string]any{"timestamp": now, "status": status}
		if len(errs) > 0 {
			check["errors"] = errs
		}
		b.Metadata["last_integrity_check"] = check
		if err := o.Store.UpdateBackup(ctx, b); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("backup_id", b.ID).Msg("integrity verify: failed to stamp last_integrity_check")
		}

		if len(errs) > 0 {
			report.Failed++
			metrics.IntegrityCheckFailures.WithLabelValues("missing_or_mismatched").Inc()
			if o.Monitor != nil {
				o.Monitor.RaiseIntegrityFailure(ctx, b.ID, errs)
			}
		}
	}

	if report.Failed > 0 && o.Monitor != nil {
		o.Monitor.RaiseCleanupSummary(ctx, catalog.SeverityWarning,
			fmt.Sprintf("storage integrity sweep found %d of %d backups with missing or mismatched copies", report.Failed, report.Checked),
			map[string]any{"checked": report.Checked, "failed": report.Failed})
	}
	logging.CtxInfo(ctx).Int("checked", report.Checked).Int("failed", report.Failed).Msg("storage integrity sweep finished")
	return report
}

func (o *Orchestrator) checkBackupIntegrity(ctx context.Context, b *catalog.BackupRecord) []string {
	var errs []string
	paths := map[string]string{"local": b.LocalPath, "r2": b.R2Path, "b2": b.B2Path}
	for name, path := range paths {
		if path == "" {
			continue
		}
		backend, ok := o.Backends[name]
		if !ok {
			continue
		}
		exists, err := backend.Exists(ctx, path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: exists check failed: %v", name, err))
			continue
		}
		if !exists {
			errs = append(errs, fmt.Sprintf("%s: object missing at %s", name, path))
			continue
		}
		size, ok, err := backend.GetSize(ctx, path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: size check failed: %v", name, err))
			continue
		}
		if ok && b.SizeBytes > 0 && size != b.SizeBytes {
			errs = append(errs, fmt.Sprintf("%s: size mismatch, recorded %d got %d", name, b.SizeBytes, size))
		}
	}
	return errs
}
