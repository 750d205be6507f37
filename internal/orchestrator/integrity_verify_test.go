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
)

func TestIntegrityVerifyPassesWhenObjectPresentAndSizeMatches(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := scopedCtx()

	content := []byte("artifact bytes")
	require.NoError(t, os.WriteFile(filepath.Join(o.BaseDir, "present.enc"), content, 0o600))

	b := &catalog.BackupRecord{
		Kind: catalog.KindFullDB, Filename: "present.enc", Status: catalog.StatusVerified,
		LocalPath: "present.enc", SizeBytes: int64(len(content)), CreatedAt: time.Now(),
	}
	require.NoError(t, o.Store.CreateBackup(ctx, b))

	report, err := o.IntegrityVerify(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 0, report.Failed)

	refreshed, err := o.Store.GetBackup(ctx, b.ID)
	require.NoError(t, err)
	check, ok := refreshed.Metadata["last_integrity_check"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", check["status"])
}

func TestIntegrityVerifyFlagsMissingObject(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := scopedCtx()

	b := &catalog.BackupRecord{
		Kind: catalog.KindFullDB, Filename: "missing.enc", Status: catalog.StatusVerified,
		LocalPath: "missing.enc", SizeBytes: 10, CreatedAt: time.Now(),
	}
	require.NoError(t, o.Store.CreateBackup(ctx, b))

	report, err := o.IntegrityVerify(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}
