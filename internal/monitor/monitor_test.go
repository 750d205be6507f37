package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vaultkeeper/engine/internal/catalog"
)

func newTestMonitor(t *testing.T) (*Monitor, *catalog.Store, context.Context) {
	t.Helper()
	store, err := catalog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := catalog.WithPlatformScope(context.Background())
	return New(store, nil), store, ctx
}

func TestCheckBackupOutcomeRaisesFailureAlert(t *testing.T) {
	m, store, ctx := newTestMonitor(t)

	b := &catalog.BackupRecord{Kind: catalog.KindFullDB, Status: catalog.StatusFailed, Filename: "f"}
	require.NoError(t, store.CreateBackup(ctx, b))

	m.CheckBackupOutcome(ctx, b)

	alerts, err := store.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, catalog.AlertBackupFailure, alerts[0].Kind)
	require.Equal(t, catalog.SeverityCritical, alerts[0].Severity)
}

func TestCheckBackupOutcomeRaisesSizeDeviationAlert(t *testing.T) {
	m, store, ctx := newTestMonitor(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateBackup(ctx, &catalog.BackupRecord{
			Kind: catalog.KindFullDB, Status: catalog.StatusVerified, Filename: "baseline",
			SizeBytes: 1000, DurationSeconds: 10,
		}))
	}

	outlier := &catalog.BackupRecord{Kind: catalog.KindFullDB, Status: catalog.StatusVerified, Filename: "outlier", SizeBytes: 5000, DurationSeconds: 10}
	require.NoError(t, store.CreateBackup(ctx, outlier))

	m.CheckBackupOutcome(ctx, outlier)

	alerts, err := store.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, catalog.AlertSizeDeviation, alerts[0].Kind)
	require.Equal(t, catalog.SeverityCritical, alerts[0].Severity)
}

func TestCheckBackupOutcomeNoAlertWithinThreshold(t *testing.T) {
	m, store, ctx := newTestMonitor(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateBackup(ctx, &catalog.BackupRecord{
			Kind: catalog.KindFullDB, Status: catalog.StatusVerified, Filename: "baseline", SizeBytes: 1000, DurationSeconds: 10,
		}))
	}
	normal := &catalog.BackupRecord{Kind: catalog.KindFullDB, Status: catalog.StatusVerified, Filename: "normal", SizeBytes: 1050, DurationSeconds: 10}
	require.NoError(t, store.CreateBackup(ctx, normal))

	m.CheckBackupOutcome(ctx, normal)

	alerts, err := store.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Empty(t, alerts)
}

func TestRaiseIntegrityFailureCreatesErrorAlert(t *testing.T) {
	m, store, ctx := newTestMonitor(t)

	m.RaiseIntegrityFailure(ctx, "backup-1", []string{"local: object missing"})

	alerts, err := store.ListAlerts(ctx, catalog.AlertFilter{Kind: catalog.AlertIntegrityFailure})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, catalog.SeverityError, alerts[0].Severity)
}

func TestCheckRestoreOutcomeIgnoresSuccess(t *testing.T) {
	m, store, ctx := newTestMonitor(t)
	m.CheckRestoreOutcome(ctx, &catalog.RestoreRecord{ID: "r1", Status: catalog.RestoreCompleted, CreatedAt: time.Now()})

	alerts, err := store.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Empty(t, alerts)
}
