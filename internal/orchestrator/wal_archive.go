// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/codec"
	"github.com/vaultkeeper/engine/internal/logging"
)

const walLockTTL = time.Minute
const walRetentionDays = 30

var walNamePattern = regexp.MustCompile(`^[0-9A-Fa-f]{24}$`)

// WALArchive scans WALSourceDir for not-yet-archived segments, compresses
// and uploads each, and sweeps archives older than 30 days (§4.6.3).
func (o *Orchestrator) WALArchive(ctx context.Context, taskID, walSourceDir string) error {
	return o.runLocked(ctx, "wal_archive", taskID, walLockTTL, func(ctx context.Context) error {
		entries, err := os.ReadDir(walSourceDir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.IsDir() || !walNamePattern.MatchString(entry.Name()) {
				continue
			}
			if err := o.archiveOneWAL(ctx, walSourceDir, entry.Name()); err != nil {
				logging.Ctx(ctx).Error().Err(err).Str("wal_file", entry.Name()).Msg("WAL archival failed")
			}
		}
		return o.cleanupOldWALArchives(ctx)
	})
}

func (o *Orchestrator) archiveOneWAL(ctx context.Context, dir, name string) error {
	filename := name + ".gz"
	existing, err := o.Store.ListBackups(ctx, catalog.BackupFilter{Kind: catalog.KindWAL})
	if err != nil {
		return err
	}
	for _, b := range existing {
		if b.Filename == filename {
			return nil // already archived
		}
	}

	rawPath := filepath.Join(dir, name)
	gzPath := rawPath + ".gz"
	_, _, compressedSize, err := codec.Compress(rawPath, gzPath)
	if err != nil {
		return err
	}
	checksum, err := codec.SHA256(gzPath)
	if err != nil {
		return err
	}

	b := &catalog.BackupRecord{
		Kind: catalog.KindWAL, Filename: filename, Status: catalog.StatusInProgress,
		Checksum: checksum, SizeBytes: compressedSize, CreatedAt: time.Now().UTC(),
	}
	if err := o.Store.CreateBackup(ctx, b); err != nil {
		return err
	}

	remotePath := "wal/" + filename
	succeeded := 0
	for _, name := range []string{"r2", "b2"} {
		backend, ok := o.Backends[name]
		if !ok {
			continue
		}
		if err := backend.Upload(ctx, gzPath, remotePath); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("backend", name).Str("wal_file", filename).Msg("WAL upload failed")
			continue
		}
		succeeded++
		switch name {
		case "r2":
			b.R2Path = remotePath
		case "b2":
			b.B2Path = remotePath
		}
	}
	if succeeded == 0 {
		b.Status = catalog.StatusFailed
		b.Notes = "neither remote backend accepted the WAL upload"
		_ = o.Store.UpdateBackup(ctx, b)
		if o.Monitor != nil {
			o.Monitor.CheckBackupOutcome(ctx, b)
		}
		return nil
	}

	b.Status = catalog.StatusCompleted
	if err := o.Store.UpdateBackup(ctx, b); err != nil {
		return err
	}
	return os.Remove(rawPath)
}

func (o *Orchestrator) cleanupOldWALArchives(ctx context.Context) error {
	cutoff := time.Now().Add(-walRetentionDays * 24 * time.Hour)
	old, err := o.Store.FindOldestBackups(ctx, cutoff, catalog.BackupFilter{Kind: catalog.KindWAL})
	if err != nil {
		return err
	}
	for _, b := range old {
		for _, name := range []string{"r2", "b2"} {
			path := b.R2Path
			if name == "b2" {
				path = b.B2Path
			}
			if path == "" {
				continue
			}
			if backend, ok := o.Backends[name]; ok {
				if err := backend.Delete(ctx, path); err != nil {
					logging.Ctx(ctx).Warn().Err(err).Str("backend", name).Str("backup_id", b.ID).Msg("WAL delete failed during retention sweep")
				}
			}
		}
		if err := o.Store.DeleteBackup(ctx, b.ID); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("backup_id", b.ID).Msg("failed to delete expired WAL record")
		}
	}
	return nil
}
