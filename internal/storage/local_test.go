package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	backend, err := NewLocal(base)
	require.NoError(t, err)

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "dump.sql")
	content := []byte("select 1;")
	require.NoError(t, os.WriteFile(src, content, 0o600))

	require.NoError(t, backend.Upload(ctx, src, "backup_full_database_20260101.dump.gz.enc"))

	exists, err := backend.Exists(ctx, "backup_full_database_20260101.dump.gz.enc")
	require.NoError(t, err)
	assert.True(t, exists)

	size, ok, err := backend.GetSize(ctx, "backup_full_database_20260101.dump.gz.enc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(len(content)), size)

	dst := filepath.Join(srcDir, "restored.sql")
	require.NoError(t, backend.Download(ctx, "backup_full_database_20260101.dump.gz.enc", dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLocalDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, backend.Delete(ctx, "never-existed.gz.enc"))
	assert.NoError(t, backend.Delete(ctx, "never-existed.gz.enc"))
}

func TestLocalGetSizeAbsentIsOkFalse(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, ok, err := backend.GetSize(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorageUsage(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	usage, ok, err := backend.GetStorageUsage(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, usage.TotalBytes, int64(0))
}
