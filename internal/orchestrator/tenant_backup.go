// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/codec"
	"github.com/vaultkeeper/engine/internal/dumpdriver"
	"github.com/vaultkeeper/engine/internal/lockservice"
	"github.com/vaultkeeper/engine/internal/logging"
	"github.com/vaultkeeper/engine/internal/vaulterrors"
)

const (
	tenantBatchLockTTL = 30 * time.Minute
	tenantLockTTL       = 20 * time.Minute
)

// TenantBackup runs the per-tenant pipeline (§4.6.2). When tenantID is
// non-empty it restricts the batch to that one tenant (manual trigger);
// otherwise it resolves every active tenant from Tenants. Per-tenant
// failures mark that tenant's record FAILED without aborting the batch.
// Returns the ids of the backups that completed successfully.
func (o *Orchestrator) TenantBackup(ctx context.Context, taskID, tenantID string) ([]string, error) {
	var successIDs []string
	err := o.runLocked(ctx, "weekly_tenant_backup", taskID, tenantBatchLockTTL, func(ctx context.Context) error {
		tenants, err := o.resolveTenants(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, t := range tenants {
			if id, ok := o.runOneTenant(ctx, t); ok {
				successIDs = append(successIDs, id)
			}
		}
		return nil
	})
	return successIDs, err
}

func (o *Orchestrator) resolveTenants(ctx context.Context, tenantID string) ([]string, error) {
	if tenantID != "" {
		return []string{tenantID}, nil
	}
	if o.Tenants == nil {
		return nil, nil
	}
	return o.Tenants.ListActiveTenants(ctx)
}

func (o *Orchestrator) runOneTenant(ctx context.Context, tenantID string) (id string, ok bool) {
	key := lockservice.TenantKey(tenantID)
	if err := o.Locks.Acquire(ctx, key, tenantID, tenantLockTTL); err != nil {
		if !errors.Is(err, vaulterrors.ErrLockHeld) {
			logging.Ctx(ctx).Error().Err(err).Str("tenant_id", tenantID).Msg("per-tenant lock acquire failed; skipping this tenant for this run")
			return "", false
		}
		logging.CtxInfo(ctx).Str("tenant_id", tenantID).Msg("per-tenant lock held; skipping this tenant for this run")
		return "", false
	}
	defer o.Locks.Release(ctx, key)

	now := time.Now().UTC()
	name := filename(catalog.KindTenant, tenantID, now, ".dump.gz.enc")
	b := &catalog.BackupRecord{
		Kind: catalog.KindTenant, TenantID: tenantID, Filename: name, Status: catalog.StatusInProgress,
		CreatedAt: now, Metadata: map[string]any{"pg_dump_format": "plain"},
	}
	if err := o.Store.CreateBackup(ctx, b); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("tenant_id", tenantID).Msg("failed to create tenant backup record")
		return "", false
	}

	dir, err := o.tempDir("tenant-backup")
	if err != nil {
		o.failTenantBackup(ctx, b, err)
		return "", false
	}
	defer os.RemoveAll(dir)

	start := time.Now()
	rawPath := joinPath(dir, "tenant.sql")
	if err := dumpdriver.TenantDump(ctx, rawPath, tenantID, o.DSN, o.TenantTables); err != nil {
		o.failTenantBackup(ctx, b, err)
		return "", false
	}

	result, err := codec.CompressAndEncrypt(o.Key, rawPath, joinPath(dir, name), false)
	if err != nil {
		o.failTenantBackup(ctx, b, err)
		return "", false
	}
	b.DurationSeconds = time.Since(start).Seconds()
	b.Checksum = result.Checksum
	b.SizeBytes = result.FinalSize
	if result.OriginalSize > 0 {
		b.CompressionRatio = 1 - float64(result.CompressedSize)/float64(result.OriginalSize)
	}
	recordArtifactMetrics(b.Kind, b.SizeBytes, b.CompressionRatio)

	paths, _ := o.uploadToAll(ctx, result.OutPath, name)
	if _, hasLocal := paths["local"]; !hasLocal {
		o.failTenantBackup(ctx, b, errorFromWarnings(nil))
		return "", false
	}
	applyPaths(b, paths)
	b.Status = catalog.StatusCompleted
	if err := o.Store.UpdateBackup(ctx, b); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to persist tenant backup COMPLETED status")
		return "", false
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
	return b.ID, true
}

func (o *Orchestrator) failTenantBackup(ctx context.Context, b *catalog.BackupRecord, cause error) {
	b.Status = catalog.StatusFailed
	b.Notes = cause.Error()
	if err := o.Store.UpdateBackup(ctx, b); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to persist tenant backup FAILED status")
	}
	if o.Monitor != nil {
		o.Monitor.RaiseTenantBackupFailure(ctx, b)
	}
}
