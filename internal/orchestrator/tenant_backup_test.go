// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultkeeper/engine/internal/catalog"
)

type staticTenants struct{ ids []string }

func (s staticTenants) ListActiveTenants(context.Context) ([]string, error) { return s.ids, nil }

func fakeTenantPgDump(t *testing.T) {
	t.Helper()
	fakeBinary(t, "pg_dump", `
for a in "$@"; do
  case "$a" in
    --file=*) echo "SELECT 1;" > "${a#--file=}" ;;
  esac
done
exit 0
`)
}

func TestTenantBackupRunsEveryResolvedTenant(t *testing.T) {
	o := newTestOrchestrator(t)
	o.Tenants = staticTenants{ids: []string{"tenant-a", "tenant-b"}}
	fakeTenantPgDump(t)

	ids, err := o.TenantBackup(context.Background(), "run-1", "")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	for _, id := range ids {
		b, err := o.Store.GetBackup(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, catalog.KindTenant, b.Kind)
		assert.Equal(t, catalog.StatusVerified, b.Status)
	}
}

func TestTenantBackupRestrictsToSingleTenantWhenSpecified(t *testing.T) {
	o := newTestOrchestrator(t)
	o.Tenants = staticTenants{ids: []string{"tenant-a", "tenant-b"}}
	fakeTenantPgDump(t)

	ids, err := o.TenantBackup(context.Background(), "run-2", "tenant-a")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	b, err := o.Store.GetBackup(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", b.TenantID)
}

func TestTenantBackupOneTenantFailureDoesNotAbortBatch(t *testing.T) {
	o := newTestOrchestrator(t)
	o.Tenants = staticTenants{ids: []string{"tenant-a", "tenant-b"}}
	fakeBinary(t, "pg_dump", "echo 'connection refused' >&2; exit 1\n")

	ids, err := o.TenantBackup(context.Background(), "run-3", "")
	require.NoError(t, err)
	assert.Empty(t, ids)

	backups, err := o.Store.ListBackups(context.Background(), catalog.BackupFilter{Kind: catalog.KindTenant})
	require.NoError(t, err)
	assert.Len(t, backups, 2)
	for _, b := range backups {
		assert.Equal(t, catalog.StatusFailed, b.Status)
	}
}
