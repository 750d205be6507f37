// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

// Package orchestrator runs the seven backup/restore pipelines and the
// disaster-recovery runbook, each a linear state machine over Catalog
// records guarded by the lock service's task-run and per-tenant locks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/codec"
	"github.com/vaultkeeper/engine/internal/dumpdriver"
	"github.com/vaultkeeper/engine/internal/lockservice"
	"github.com/vaultkeeper/engine/internal/logging"
	"github.com/vaultkeeper/engine/internal/metrics"
	"github.com/vaultkeeper/engine/internal/monitor"
	"github.com/vaultkeeper/engine/internal/storage"
	"github.com/vaultkeeper/engine/internal/vaulterrors"
)

// TenantSource resolves the set of tenants the per-tenant backup pipeline
// should iterate. A deployment backs this with its own tenant registry;
// it is deliberately not part of this engine's own Catalog.
type TenantSource interface {
	ListActiveTenants(ctx context.Context) ([]string, error)
}

// Orchestrator wires together every collaborator a pipeline needs: the
// Catalog, the lock service, every storage backend, the dump driver's
// DSN, the codec key, and the Monitor that reacts to terminal outcomes.
type Orchestrator struct {
	Store    *catalog.Store
	Locks    *lockservice.Service
	Backends map[string]storage.Backend
	Monitor  *monitor.Monitor
	Tenants  TenantSource

	DSN     dumpdriver.DSN
	Key     codec.Key
	BaseDir string

	// RLSForceTables are toggled off/on by full_dump; TenantTables is the
	// allow-listed table set tenant_dump restricts to.
	RLSForceTables []string
	TenantTables   []string
}

func New(store *catalog.Store, locks *lockservice.Service, backends map[string]storage.Backend, mon *monitor.Monitor, tenants TenantSource, dsn dumpdriver.DSN, key codec.Key, baseDir string) *Orchestrator {
	return &Orchestrator{
		Store: store, Locks: locks, Backends: backends, Monitor: mon, Tenants: tenants,
		DSN: dsn, Key: key, BaseDir: baseDir,
	}
}

// filename builds the grammar from §6: backup_{kind}_{tenant-id?}_{ts}.ext
func filename(kind catalog.BackupKind, tenantID string, ts time.Time, ext string) string {
	ts2 := ts.UTC().Format("20060102_150405")
	switch kind {
	case catalog.KindConfig:
		return fmt.Sprintf("backup_configuration_%s%s", ts2, ext)
	case catalog.KindTenant:
		return fmt.Sprintf("backup_tenant_%s_%s%s", tenantID, ts2, ext)
	default:
		return fmt.Sprintf("backup_full_database_%s%s", ts2, ext)
	}
}

// runLocked acquires a task-run lock for {taskName, taskID}, runs fn, and
// releases the lock (best-effort) regardless of outcome. If the lock is
// already held, it returns nil immediately per §4.6's skeleton — "if
// held: return 0" is not an error.
func (o *Orchestrator) runLocked(ctx context.Context, taskName, taskID string, ttl time.Duration, fn func(ctx context.Context) error) error {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	ctx = catalog.WithPlatformScope(ctx)
	key := lockservice.TaskRunKey(taskName, taskID)

	if err := o.Locks.Acquire(ctx, key, taskID, ttl); err != nil {
		if !errors.Is(err, vaulterrors.ErrLockHeld) {
			return err
		}
		metrics.LockContention.WithLabelValues(taskName).Inc()
		logging.CtxInfo(ctx).Str("task", taskName).Msg("task-run lock already held; skipping this run")
		return nil
	}
	defer o.Locks.Release(ctx, key)

	start := time.Now()
	err := fn(ctx)
	metrics.PipelineDuration.WithLabelValues(taskName).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.PipelineRuns.WithLabelValues(taskName, status).Inc()
	return err
}

// tempDir creates a per-run scratch directory under BaseDir, removed
// when the caller's defer fires.
func (o *Orchestrator) tempDir(prefix string) (string, error) {
	return os.MkdirTemp(o.BaseDir, prefix+"-*")
}

// uploadToAll uploads localPath to every backend under remotePath,
// treating "local" as the mandatory backend (§4.6.1's minimum
// redundancy rule: everything else is best-effort and only logged).
func (o *Orchestrator) uploadToAll(ctx context.Context, localPath, remotePath string) (paths map[string]string, warnings []string) {
	paths = make(map[string]string)
	for name, backend := range o.Backends {
		if err := backend.Upload(ctx, localPath, remotePath); err != nil {
			msg := fmt.Sprintf("%s: upload failed: %v", name, err)
			if name == "local" {
				logging.Ctx(ctx).Error().Err(err).Str("backend", name).Msg("mandatory local upload failed")
			} else {
				logging.Ctx(ctx).Warn().Err(err).Str("backend", name).Msg("optional remote upload failed; proceeding with reduced redundancy")
			}
			metrics.StorageUploadErrors.WithLabelValues(name).Inc()
			warnings = append(warnings, msg)
			continue
		}
		paths[name] = remotePath
	}
	return paths, warnings
}

func (o *Orchestrator) verify(ctx context.Context, checksum string, size int64, remotePath string) codec.IntegrityReport {
	backends := make(map[string]codec.Backend, len(o.Backends))
	for name, b := range o.Backends {
		backends[name] = b
	}
	return codec.VerifyBackupIntegrity(ctx, checksum, size, remotePath, backends)
}

func joinPath(dir, name string) string { return filepath.Join(dir, name) }

// recordArtifactMetrics feeds a produced backup artifact's size and
// compression ratio into the pipeline's Prometheus histograms.
func recordArtifactMetrics(kind catalog.BackupKind, sizeBytes int64, compressionRatio float64) {
	metrics.BackupSizeBytes.WithLabelValues(string(kind)).Observe(float64(sizeBytes))
	if compressionRatio > 0 {
		metrics.CompressionRatio.WithLabelValues(string(kind)).Observe(compressionRatio)
	}
}

// applyPaths copies an uploadToAll result onto the LocalPath/R2Path/B2Path
// fields the Catalog understands.
func applyPaths(b *catalog.BackupRecord, paths map[string]string) {
	if p, ok := paths["local"]; ok {
		b.LocalPath = p
	}
	if p, ok := paths["r2"]; ok {
		b.R2Path = p
	}
	if p, ok := paths["b2"]; ok {
		b.B2Path = p
	}
}
