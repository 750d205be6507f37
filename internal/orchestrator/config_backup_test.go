// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultkeeper/engine/internal/catalog"
)

func TestConfigBackupRedactsEnvFilesAndArchivesTree(t *testing.T) {
	o := newTestOrchestrator(t)

	srcDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, ".env"), []byte("# comment\nDB_PASSWORD=hunter2\n\nAPI_KEY=abc123\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "nested", "app.yaml"), []byte("key: value\n"), 0o600))

	b, err := o.ConfigBackup(context.Background(), "run-1", []string{srcDir})
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, catalog.KindConfig, b.Kind)
	assert.Equal(t, catalog.StatusVerified, b.Status)
	assert.NotEmpty(t, b.LocalPath)
}

func TestSanitizeEnvFilePreservesCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("# a comment\n\nSECRET=value\nPLAIN_NO_EQUALS\n"), 0o600))

	out, err := sanitizeEnvFile(path)
	require.NoError(t, err)
	content := string(out)
	assert.Contains(t, content, "# a comment")
	assert.Contains(t, content, "SECRET=***REDACTED***")
	assert.NotContains(t, content, "value")
	assert.Contains(t, content, "PLAIN_NO_EQUALS")
}
