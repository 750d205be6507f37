// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/logging"
)

const (
	cleanupLockTTL         = time.Hour
	localRetentionDays     = 30
	remoteRetentionDays    = 365
	tempFileRetention      = 24 * time.Hour
	resolvedAlertRetention = 30 * 24 * time.Hour
)

var tempFilePrefixes = []string{"full-backup-", "tenant-backup-", "config-backup-", "test-restore-"}

// CleanupReport summarizes one run of the daily cleanup pipeline (§4.6.5).
type CleanupReport struct {
	LocalCopiesRemoved  int
	RemoteCopiesRemoved int
	RecordsDeleted      int
	TempFilesSwept      int
	Failures            []string
}

// Cleanup runs the retention sweep: drop local copies past 30 days, drop
// remote copies past 365 days, delete catalog records left with every
// path empty, sweep stale scratch directories, and purge alerts resolved
// more than 30 days ago.
func (o *Orchestrator) Cleanup(ctx context.Context, taskID string) (CleanupReport, error) {
	var report CleanupReport
	err := o.runLocked(ctx, "daily_cleanup", taskID, cleanupLockTTL, func(ctx context.Context) error {
		report = o.runCleanup(ctx)
		return nil
	})
	return report, err
}

func (o *Orchestrator) runCleanup(ctx context.Context) CleanupReport {
	var report CleanupReport

	localCutoff := time.Now().Add(-localRetentionDays * 24 * time.Hour)
	localCandidates, err := o.Store.FindOldestBackups(ctx, localCutoff, catalog.BackupFilter{
		Statuses: []catalog.BackupStatus{catalog.StatusCompleted, catalog.StatusVerified},
	})
	if err != nil {
		report.Failures = append(report.Failures, "local sweep query: "+err.Error())
	}
	for _, b := range localCandidates {
		if b.LocalPath == "" {
			continue
		}
		if backend, ok := o.Backends["local"]; ok {
			if err := backend.Delete(ctx, b.LocalPath); err != nil {
				report.Failures = append(report.Failures, "local delete "+b.ID+": "+err.Error())
				continue
			}
		}
		b.LocalPath = ""
		if err := o.Store.UpdateBackup(ctx, b); err != nil {
			report.Failures = append(report.Failures, "local clear "+b.ID+": "+err.Error())
			continue
		}
		report.LocalCopiesRemoved++
	}

	remoteCutoff := time.Now().Add(-remoteRetentionDays * 24 * time.Hour)
	remoteCandidates, err := o.Store.FindOldestBackups(ctx, remoteCutoff, catalog.BackupFilter{})
	if err != nil {
		report.Failures = append(report.Failures, "remote sweep query: "+err.Error())
	}
	for _, b := range remoteCandidates {
		for _, name := range []string{"r2", "b2"} {
			path := b.R2Path
			if name == "b2" {
				path = b.B2Path
			}
			if path == "" {
				continue
			}
			backend, ok := o.Backends[name]
			if !ok {
				continue
			}
			if err := backend.Delete(ctx, path); err != nil {
				report.Failures = append(report.Failures, name+" delete "+b.ID+": "+err.Error())
				continue
			}
			if name == "r2" {
				b.R2Path = ""
			} else {
				b.B2Path = ""
			}
			report.RemoteCopiesRemoved++
		}
		if err := o.Store.UpdateBackup(ctx, b); err != nil {
			report.Failures = append(report.Failures, "remote clear "+b.ID+": "+err.Error())
		}
	}

	allCandidates, err := o.Store.ListBackups(ctx, catalog.BackupFilter{})
	if err != nil {
		report.Failures = append(report.Failures, "orphan scan: "+err.Error())
	}
	for _, b := range allCandidates {
		if !b.AllPathsEmpty() {
			continue
		}
		if err := o.Store.DeleteBackup(ctx, b.ID); err != nil {
			report.Failures = append(report.Failures, "record delete "+b.ID+": "+err.Error())
			continue
		}
		report.RecordsDeleted++
	}

	report.TempFilesSwept = sweepTempFiles(ctx, o.BaseDir)
	o.sweepResolvedAlerts(ctx, &report)

	switch {
	case len(report.Failures) > 0:
		o.raiseCleanupAlert(ctx, catalog.SeverityWarning, "cleanup completed with failures", report)
	case report.LocalCopiesRemoved+report.RemoteCopiesRemoved+report.RecordsDeleted+report.TempFilesSwept > 0:
		o.raiseCleanupAlert(ctx, catalog.SeverityInfo, "cleanup removed stale backup artifacts", report)
	}
	logging.CtxInfo(ctx).
		Int("local_removed", report.LocalCopiesRemoved).
		Int("remote_removed", report.RemoteCopiesRemoved).
		Int("records_deleted", report.RecordsDeleted).
		Int("temp_swept", report.TempFilesSwept).
		Int("failures", len(report.Failures)).
		Msg("daily cleanup finished")
	return report
}

// sweepTempFiles removes scratch directories from prior runs older than a
// day, the kind left behind by a crashed pipeline before it could defer
// os.RemoveAll.
func sweepTempFiles(ctx context.Context, baseDir string) int {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-tempFileRetention)
	swept := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		matched := false
		for _, prefix := range tempFilePrefixes {
			if strings.HasPrefix(entry.Name(), prefix) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("failed to sweep stale temp directory")
			continue
		}
		swept++
	}
	return swept
}

// sweepResolvedAlerts deletes Alerts resolved more than 30 days ago, the
// supplemented retention feature grounded on the original's
// cleanup_resolved_alerts task.
func (o *Orchestrator) sweepResolvedAlerts(ctx context.Context, report *CleanupReport) {
	since := time.Now().Add(-resolvedAlertRetention)
	alerts, err := o.Store.ListAlerts(ctx, catalog.AlertFilter{Status: catalog.AlertResolved})
	if err != nil {
		report.Failures = append(report.Failures, "resolved alert scan: "+err.Error())
		return
	}
	for _, a := range alerts {
		if a.ResolvedAt == nil || a.ResolvedAt.After(since) {
			continue
		}
		if err := o.Store.DeleteAlert(ctx, a.ID); err != nil {
			report.Failures = append(report.Failures, "resolved alert delete "+a.ID+": "+err.Error())
		}
	}
}

func (o *Orchestrator) raiseCleanupAlert(ctx context.Context, severity catalog.AlertSeverity, message string, report CleanupReport) {
	if o.Monitor == nil {
		return
	}
	details := map[string]any{
		"local_removed":   report.LocalCopiesRemoved,
		"remote_removed":  report.RemoteCopiesRemoved,
		"records_deleted": report.RecordsDeleted,
		"temp_swept":      report.TempFilesSwept,
		"failures":        report.Failures,
	}
	o.Monitor.RaiseCleanupSummary(ctx, severity, message, details)
}
