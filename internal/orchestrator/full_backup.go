// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"os"
	"time"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/codec"
	"github.com/vaultkeeper/engine/internal/dumpdriver"
	"github.com/vaultkeeper/engine/internal/logging"
)

const fullBackupLockTTL = 2 * time.Hour

// FullBackup runs the daily whole-database pipeline (§4.6.1) once. A
// failed run is returned as an error and is not retried, here or by the
// Scheduler, which logs it and runs the pipeline again on its next tick.
func (o *Orchestrator) FullBackup(ctx context.Context, taskID string) (*catalog.BackupRecord, error) {
	var result *catalog.BackupRecord
	err := o.runLocked(ctx, "daily_full_database_backup", taskID, fullBackupLockTTL, func(ctx context.Context) error {
		b, err := o.runFullBackup(ctx)
		result = b
		return err
	})
	return result, err
}

func (o *Orchestrator) runFullBackup(ctx context.Context) (*catalog.BackupRecord, error) {
	now := time.Now().UTC()
	name := filename(catalog.KindFullDB, "", now, ".dump.gz.enc")

	b := &catalog.BackupRecord{
		Kind: catalog.KindFullDB, Filename: name, Status: catalog.StatusInProgress,
		CreatedAt: now, Metadata: map[string]any{"pg_dump_format": "plain"},
	}
	if err := o.Store.CreateBackup(ctx, b); err != nil {
		return nil, err
	}

	dir, err := o.tempDir("full-backup")
	if err != nil {
		return o.failBackup(ctx, b, err)
	}
	defer os.RemoveAll(dir)

	start := time.Now()
	rawPath := joinPath(dir, "full.sql")
	if err := dumpdriver.FullDump(ctx, rawPath, o.DSN, o.RLSForceTables); err != nil {
		return o.failBackup(ctx, b, err)
	}

	result, err := codec.CompressAndEncrypt(o.Key, rawPath, joinPath(dir, name), false)
	if err != nil {
		return o.failBackup(ctx, b, err)
	}
	b.DurationSeconds = time.Since(start).Seconds()
	b.Checksum = result.Checksum
	b.SizeBytes = result.FinalSize
	if result.OriginalSize > 0 {
		b.CompressionRatio = 1 - float64(result.CompressedSize)/float64(result.OriginalSize)
	}
	recordArtifactMetrics(b.Kind, b.SizeBytes, b.CompressionRatio)

	paths, warnings := o.uploadToAll(ctx, result.OutPath, name)
	if _, ok := paths["local"]; !ok {
		return o.failBackup(ctx, b, errorFromWarnings(warnings))
	}
	applyPaths(b, paths)
	b.Status = catalog.StatusCompleted
	if err := o.Store.UpdateBackup(ctx, b); err != nil {
		return nil, err
	}

	report := o.verify(ctx, b.Checksum, b.SizeBytes, name)
	if report.Valid {
		b.Status = catalog.StatusVerified
	}
	now2 := time.Now().UTC()
	b.VerifiedAt = &now2
	if err := o.Store.UpdateBackup(ctx, b); err != nil {
		return nil, err
	}

	if o.Monitor != nil {
		o.Monitor.CheckBackupOutcome(ctx, b)
		if !report.Valid {
			o.Monitor.RaiseIntegrityFailure(ctx, b.ID, report.Errors)
		}
	}

	logging.CtxInfo(ctx).Str("backup_id", b.ID).Str("status", string(b.Status)).Msg("full database backup finished")
	return b, nil
}

func (o *Orchestrator) failBackup(ctx context.Context, b *catalog.BackupRecord, cause error) (*catalog.BackupRecord, error) {
	b.Status = catalog.StatusFailed
	b.Notes = cause.Error()
	if err := o.Store.UpdateBackup(ctx, b); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to persist FAILED backup status")
	}
	if o.Monitor != nil {
		o.Monitor.CheckBackupOutcome(ctx, b)
	}
	return b, cause
}

func errorFromWarnings(warnings []string) error {
	msg := "mandatory local upload failed"
	if len(warnings) > 0 {
		msg = warnings[0]
	}
	return &localUploadError{msg: msg}
}

type localUploadError struct{ msg string }

func (e *localUploadError) Error() string { return e.msg }
