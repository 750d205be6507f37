// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/codec"
	"github.com/vaultkeeper/engine/internal/dumpdriver"
	"github.com/vaultkeeper/engine/internal/lockservice"
	"github.com/vaultkeeper/engine/internal/storage"
)

// fakeBinary writes a shell script named `name` onto a temp dir and
// prepends that dir to PATH, standing in for the postgres client tools
// dumpdriver shells out to. Shared with dumpdriver's own test package,
// duplicated here since Go test helpers don't cross package boundaries.
func fakeBinary(t *testing.T, name, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary harness is unix-only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o700))

	oldPath := os.Getenv("PATH")
	t.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)
}

func testKey() codec.Key {
	var k codec.Key
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

// newTestOrchestrator wires a real in-memory Catalog, a real in-memory
// lock service, and a real local storage backend rooted at BaseDir (as
// cmd/vaultkeeper wires it) so the pipeline tests exercise the actual
// collaborators rather than mocks, reserving fakeBinary only for the one
// genuine subprocess boundary.
func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	store, err := catalog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	locks, err := lockservice.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = locks.Close() })

	baseDir := t.TempDir()
	local, err := storage.NewLocal(baseDir)
	require.NoError(t, err)

	return &Orchestrator{
		Store:    store,
		Locks:    locks,
		Backends: map[string]storage.Backend{"local": local},
		Key:      testKey(),
		BaseDir:  baseDir,
		DSN:      dumpdriver.DSN{Host: "localhost", Port: 5432, Database: "app", User: "app", Password: "secret"},
	}
}

func scopedCtx() context.Context {
	return catalog.WithPlatformScope(context.Background())
}
