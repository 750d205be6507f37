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
	"github.com/vaultkeeper/engine/internal/lockservice"
)

func TestFullBackupCompletesAndVerifies(t *testing.T) {
	o := newTestOrchestrator(t)
	fakeBinary(t, "psql", "exit 0\n")
	fakeBinary(t, "pg_dump", `
case "$*" in
  *--format=plain*) ;;
  *) echo "unexpected args: $*" >&2; exit 1 ;;
esac
for a in "$@"; do
  case "$a" in
    --file=*) echo "SELECT 1;" > "${a#--file=}" ;;
  esac
done
exit 0
`)

	b, err := o.FullBackup(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, catalog.KindFullDB, b.Kind)
	assert.Equal(t, catalog.StatusVerified, b.Status)
	assert.NotEmpty(t, b.Checksum)
	assert.NotEmpty(t, b.LocalPath)
	assert.Equal(t, "plain", b.Metadata["pg_dump_format"])
}

func TestFullBackupFailsWhenDumpFails(t *testing.T) {
	o := newTestOrchestrator(t)
	fakeBinary(t, "psql", "exit 0\n")
	fakeBinary(t, "pg_dump", "echo 'connection refused' >&2; exit 1\n")

	b, err := o.FullBackup(context.Background(), "run-2")
	require.Error(t, err)
	require.NotNil(t, b)
	assert.Equal(t, catalog.StatusFailed, b.Status)
	assert.Contains(t, b.Notes, "connection refused")
}

func TestFullBackupSkipsWhenTaskLockAlreadyHeld(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, o.Locks.Acquire(ctx, lockservice.TaskRunKey("daily_full_database_backup", "run-3"), "holder", fullBackupLockTTL))

	b, err := o.FullBackup(ctx, "run-3")
	require.NoError(t, err)
	assert.Nil(t, b)
}
