// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultkeeper/engine/internal/catalog"
)

func TestCleanupClearsLocalPathPastRetention(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := scopedCtx()

	old := time.Now().Add(-60 * 24 * time.Hour)
	b := &catalog.BackupRecord{
		Kind: catalog.KindFullDB, Filename: "old.enc", Status: catalog.StatusVerified,
		LocalPath: "old.enc", R2Path: "old.enc", CreatedAt: old,
	}
	require.NoError(t, o.Store.CreateBackup(ctx, b))

	report, err := o.Cleanup(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.LocalCopiesRemoved)

	refreshed, err := o.Store.GetBackup(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, refreshed.LocalPath)
}

func TestCleanupDeletesRecordsWithAllPathsEmpty(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := scopedCtx()

	b := &catalog.BackupRecord{Kind: catalog.KindWAL, Filename: "orphan.gz", Status: catalog.StatusCompleted, CreatedAt: time.Now()}
	require.NoError(t, o.Store.CreateBackup(ctx, b))

	report, err := o.Cleanup(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, 1, report.RecordsDeleted)

	got, err := o.Store.GetBackup(ctx, b.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCleanupKeepsRecentlyResolvedAlerts(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := scopedCtx()

	a := &catalog.Alert{Kind: catalog.AlertBackupFailure, Severity: catalog.SeverityError, Message: "recent failure"}
	require.NoError(t, o.Store.CreateAlert(ctx, a))
	require.NoError(t, o.Store.ResolveAlert(ctx, a.ID))

	_, err := o.Cleanup(context.Background(), "run-3")
	require.NoError(t, err)

	got, err := o.Store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "an alert resolved moments ago is well within the 30-day retention window")
}

func TestCleanupPurgesResolvedAlertAt31Days(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := scopedCtx()

	resolvedAt := time.Now().Add(-31 * 24 * time.Hour)
	a := &catalog.Alert{
		Kind: catalog.AlertBackupFailure, Severity: catalog.SeverityError, Message: "old failure",
		Status: catalog.AlertResolved, ResolvedAt: &resolvedAt,
	}
	require.NoError(t, o.Store.CreateAlert(ctx, a))

	_, err := o.Cleanup(context.Background(), "run-4")
	require.NoError(t, err)

	got, err := o.Store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, got, "an alert resolved 31 days ago is past the 30-day retention window")
}

func TestCleanupKeepsResolvedAlertAt29Days(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := scopedCtx()

	resolvedAt := time.Now().Add(-29 * 24 * time.Hour)
	a := &catalog.Alert{
		Kind: catalog.AlertBackupFailure, Severity: catalog.SeverityError, Message: "borderline failure",
		Status: catalog.AlertResolved, ResolvedAt: &resolvedAt,
	}
	require.NoError(t, o.Store.CreateAlert(ctx, a))

	_, err := o.Cleanup(context.Background(), "run-5")
	require.NoError(t, err)

	got, err := o.Store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "an alert resolved 29 days ago is still within the 30-day retention window")
}
