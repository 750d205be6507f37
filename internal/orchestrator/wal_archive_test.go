// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/storage"
)

func TestWALArchiveUploadsToRemoteOnlyNeverLocal(t *testing.T) {
	o := newTestOrchestrator(t)

	r2Dir := t.TempDir()
	r2, err := storage.NewLocal(r2Dir)
	require.NoError(t, err)
	o.Backends["r2"] = r2

	walDir := t.TempDir()
	walName := strings.Repeat("0", 16) + "000000AA"
	require.NoError(t, os.WriteFile(filepath.Join(walDir, walName), []byte("wal segment bytes"), 0o600))

	err = o.WALArchive(context.Background(), "run-1", walDir)
	require.NoError(t, err)

	backups, err := o.Store.ListBackups(context.Background(), catalog.BackupFilter{Kind: catalog.KindWAL})
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, catalog.StatusCompleted, backups[0].Status)
	assert.Empty(t, backups[0].LocalPath)
	assert.NotEmpty(t, backups[0].R2Path)

	_, err = os.Stat(filepath.Join(walDir, walName))
	assert.True(t, os.IsNotExist(err), "raw WAL segment should be removed after a successful archive")
}

func TestWALArchiveSkipsAlreadyArchivedSegment(t *testing.T) {
	o := newTestOrchestrator(t)
	r2Dir := t.TempDir()
	r2, err := storage.NewLocal(r2Dir)
	require.NoError(t, err)
	o.Backends["r2"] = r2

	walDir := t.TempDir()
	walName := strings.Repeat("0", 16) + "000000BB"
	require.NoError(t, os.WriteFile(filepath.Join(walDir, walName), []byte("segment"), 0o600))

	require.NoError(t, o.WALArchive(context.Background(), "run-2", walDir))
	require.NoError(t, os.WriteFile(filepath.Join(walDir, walName), []byte("segment"), 0o600))
	require.NoError(t, o.WALArchive(context.Background(), "run-3", walDir))

	backups, err := o.Store.ListBackups(context.Background(), catalog.BackupFilter{Kind: catalog.KindWAL})
	require.NoError(t, err)
	assert.Len(t, backups, 1, "re-running the sweep must not re-archive the same segment")
}
