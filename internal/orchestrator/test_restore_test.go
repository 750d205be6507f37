// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/codec"
)

// fakeTestRestoreToolchain stubs psql and pg_restore so the monthly
// drill runs end to end against canned, always-passing output: the
// table/row-count checks see data, and the catalog queries behind the
// foreign-key and not-null checks report no constraints at all, so
// those checks short-circuit to "nothing sampled" rather than a
// fabricated zero-orphan count.
func fakeTestRestoreToolchain(t *testing.T) {
	t.Helper()
	fakeBinary(t, "pg_restore", "exit 0\n")
	fakeBinary(t, "psql", `
case "$*" in
  *to_regclass*) echo "t" ;;
  *"contype = 'f'"*) echo "" ;;
  *attnotnull*) echo "" ;;
  *"count(*)"*) echo "3" ;;
  *) echo "" ;;
esac
exit 0
`)
}

// fakeTestRestoreToolchainWithForeignKeyOrphan stubs the catalog query
// behind checkForeignKeyOrphans to report one child/parent column pair,
// and the resulting orphan-count query to report 2 dangling rows, so
// the drill genuinely fails the foreign-key check rather than reporting
// a metadata-only pass.
func fakeTestRestoreToolchainWithForeignKeyOrphan(t *testing.T) {
	t.Helper()
	fakeBinary(t, "pg_restore", "exit 0\n")
	fakeBinary(t, "psql", `
case "$*" in
  *to_regclass*) echo "t" ;;
  *"contype = 'f'"*) echo "fk_tenants_owner|tenants|owner_id|accounts|id" ;;
  *attnotnull*) echo "" ;;
  *"NOT EXISTS"*) echo "2" ;;
  *"count(*)"*) echo "3" ;;
  *) echo "" ;;
esac
exit 0
`)
}

// fakeTestRestoreToolchainWithNotNullViolation stubs the catalog query
// behind checkNotNullViolations to report one NOT NULL column, and the
// resulting null-count query to report 1 violating row.
func fakeTestRestoreToolchainWithNotNullViolation(t *testing.T) {
	t.Helper()
	fakeBinary(t, "pg_restore", "exit 0\n")
	fakeBinary(t, "psql", `
case "$*" in
  *to_regclass*) echo "t" ;;
  *"contype = 'f'"*) echo "" ;;
  *attnotnull*) echo "owner_id" ;;
  *"IS NULL"*) echo "1" ;;
  *"count(*)"*) echo "3" ;;
  *) echo "" ;;
esac
exit 0
`)
}

func seedEncryptedFullBackup(t *testing.T, o *Orchestrator, createdAt time.Time) *catalog.BackupRecord {
	t.Helper()
	ctx := scopedCtx()

	rawPath := filepath.Join(o.BaseDir, "plain.sql")
	require.NoError(t, os.WriteFile(rawPath, []byte("SELECT 1;"), 0o600))

	result, err := codec.CompressAndEncrypt(o.Key, rawPath, filepath.Join(o.BaseDir, "backup.enc"), false)
	require.NoError(t, err)

	b := &catalog.BackupRecord{
		Kind: catalog.KindFullDB, Filename: "backup.enc", Status: catalog.StatusVerified,
		LocalPath: "backup.enc", Checksum: result.Checksum, SizeBytes: result.FinalSize, CreatedAt: createdAt,
	}
	require.NoError(t, o.Store.CreateBackup(ctx, b))
	return b
}

func TestTestRestoreRunsAgainstRecentFullBackup(t *testing.T) {
	o := newTestOrchestrator(t)
	seedEncryptedFullBackup(t, o, time.Now().Add(-2*24*time.Hour))
	fakeTestRestoreToolchain(t)

	report, err := o.TestRestore(context.Background(), "run-1", []string{"tenants"})
	require.NoError(t, err)
	assert.NotEmpty(t, report.BackupID)
	assert.True(t, report.Passed)
}

func TestTestRestoreFailsOnForeignKeyOrphans(t *testing.T) {
	o := newTestOrchestrator(t)
	seedEncryptedFullBackup(t, o, time.Now().Add(-2*24*time.Hour))
	fakeTestRestoreToolchainWithForeignKeyOrphan(t)

	report, err := o.TestRestore(context.Background(), "run-3", []string{"tenants"})
	require.NoError(t, err)
	assert.False(t, report.Passed)

	var sawOrphanCheck bool
	for _, q := range report.Queries {
		if q.Name == "fk_orphans:fk_tenants_owner" {
			sawOrphanCheck = true
			assert.False(t, q.Passed)
			assert.Contains(t, q.Detail, "orphans=2")
		}
	}
	assert.True(t, sawOrphanCheck, "expected a fk_orphans result for the seeded constraint")
}

func TestTestRestoreFailsOnNotNullViolation(t *testing.T) {
	o := newTestOrchestrator(t)
	seedEncryptedFullBackup(t, o, time.Now().Add(-2*24*time.Hour))
	fakeTestRestoreToolchainWithNotNullViolation(t)

	report, err := o.TestRestore(context.Background(), "run-4", []string{"tenants"})
	require.NoError(t, err)
	assert.False(t, report.Passed)

	var sawNullCheck bool
	for _, q := range report.Queries {
		if q.Name == "not_null:tenants.owner_id" {
			sawNullCheck = true
			assert.False(t, q.Passed)
			assert.Contains(t, q.Detail, "nulls=1")
		}
	}
	assert.True(t, sawNullCheck, "expected a not_null result for the seeded column")
}

func TestTestRestoreNoEligibleBackupIsANoOp(t *testing.T) {
	o := newTestOrchestrator(t)

	report, err := o.TestRestore(context.Background(), "run-2", []string{"tenants"})
	require.NoError(t, err)
	assert.Empty(t, report.BackupID)
}
