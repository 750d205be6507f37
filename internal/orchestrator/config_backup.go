// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/codec"
	"github.com/vaultkeeper/engine/internal/logging"
)

const configBackupLockTTL = 30 * time.Minute

// ConfigBackup walks WellKnownPaths (container manifests, environment
// files, reverse-proxy configs, cert/key files, orchestrator manifests,
// tuning configs, build manifests), sanitizing any file named ".env" by
// redacting its values, tars and gzips the tree, then runs it through the
// normal encrypt/upload/verify pipeline (§4.6.4).
func (o *Orchestrator) ConfigBackup(ctx context.Context, taskID string, wellKnownPaths []string) (*catalog.BackupRecord, error) {
	var result *catalog.BackupRecord
	err := o.runLocked(ctx, "daily_configuration_backup", taskID, configBackupLockTTL, func(ctx context.Context) error {
		b, err := o.runConfigBackup(ctx, wellKnownPaths)
		result = b
		return err
	})
	return result, err
}

func (o *Orchestrator) runConfigBackup(ctx context.Context, wellKnownPaths []string) (*catalog.BackupRecord, error) {
	now := time.Now().UTC()
	name := filename(catalog.KindConfig, "", now, ".tar.gz.enc")

	b := &catalog.BackupRecord{Kind: catalog.KindConfig, Filename: name, Status: catalog.StatusInProgress, CreatedAt: now}
	if err := o.Store.CreateBackup(ctx, b); err != nil {
		return nil, err
	}

	dir, err := o.tempDir("config-backup")
	if err != nil {
		return o.failBackup(ctx, b, err)
	}
	defer os.RemoveAll(dir)

	start := time.Now()
	archivePath := joinPath(dir, "config.tar.gz")
	if err := tarGzWellKnownPaths(archivePath, wellKnownPaths); err != nil {
		return o.failBackup(ctx, b, err)
	}

	if _, err := codec.Encrypt(o.Key, archivePath, joinPath(dir, name)); err != nil {
		return o.failBackup(ctx, b, err)
	}
	finalPath := joinPath(dir, name)
	checksum, err := codec.SHA256(finalPath)
	if err != nil {
		return o.failBackup(ctx, b, err)
	}
	st, err := os.Stat(finalPath)
	if err != nil {
		return o.failBackup(ctx, b, err)
	}
	b.DurationSeconds = time.Since(start).Seconds()
	b.Checksum = checksum
	b.SizeBytes = st.Size()
	recordArtifactMetrics(b.Kind, b.SizeBytes, 0)

	paths, _ := o.uploadToAll(ctx, finalPath, name)
	if _, ok := paths["local"]; !ok {
		return o.failBackup(ctx, b, errorFromWarnings(nil))
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
	_ = o.Store.UpdateBackup(ctx, b)

	if o.Monitor != nil {
		o.Monitor.CheckBackupOutcome(ctx, b)
	}
	logging.CtxInfo(ctx).Str("backup_id", b.ID).Msg("configuration backup finished")
	return b, nil
}

// tarGzWellKnownPaths walks each root in paths and writes a gzip(9) tar
// archive preserving relative directory structure. Any file literally
// named ".env" has every KEY=VALUE line rewritten to KEY=***REDACTED***;
// comments and blank lines pass through untouched.
func tarGzWellKnownPaths(outPath string, paths []string) error {
	out, err := os.Create(outPath) //nolint:gosec // caller-controlled backup paths
	if err != nil {
		return err
	}
	defer out.Close()

	gw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return err
	}
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	for _, root := range paths {
		root = filepath.Clean(root)
		info, err := os.Stat(root)
		if err != nil {
			continue // a missing well-known path is skipped, not fatal
		}
		if !info.IsDir() {
			if err := addTarFile(tw, root, filepath.Base(root), info); err != nil {
				return err
			}
			continue
		}
		err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return err
			}
			rel, err := filepath.Rel(filepath.Dir(root), path)
			if err != nil {
				return err
			}
			return addTarFile(tw, path, rel, fi)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func addTarFile(tw *tar.Writer, path, archiveName string, info os.FileInfo) error {
	var content []byte
	var err error
	if filepath.Base(path) == ".env" {
		content, err = sanitizeEnvFile(path)
	} else {
		content, err = os.ReadFile(path) //nolint:gosec // caller-controlled backup paths
	}
	if err != nil {
		return err
	}

	hdr := &tar.Header{Name: archiveName, Mode: int64(info.Mode().Perm()), Size: int64(len(content)), ModTime: info.ModTime()}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = tw.Write(content)
	return err
}

func sanitizeEnvFile(path string) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // caller-controlled backup paths
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			sb.WriteString(line)
			sb.WriteByte('\n')
			continue
		}
		if idx := strings.Index(line, "="); idx >= 0 {
			sb.WriteString(line[:idx])
			sb.WriteString("=***REDACTED***\n")
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}
