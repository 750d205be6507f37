package dumpdriver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinary writes a shell script named `name` onto a temp dir and
// prepends that dir to PATH, so the subprocess call in dumpdriver.go
// resolves to our script instead of a real postgres client tool.
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

func testDSN() DSN {
	return DSN{Host: "localhost", Port: 5432, Database: "app", User: "app", Password: "secret"}
}

func TestFullDumpInvokesPgDumpWithPlainFormat(t *testing.T) {
	out := filepath.Join(t.TempDir(), "full.sql")
	fakeBinary(t, "psql", "exit 0\n")
	fakeBinary(t, "pg_dump", fmt.Sprintf(`
case "$*" in
  *--format=plain*--file=%s*) exit 0 ;;
  *) echo "unexpected args: $*" >&2; exit 1 ;;
esac
`, out))

	err := FullDump(context.Background(), out, testDSN(), []string{"tenants.orders"})
	assert.NoError(t, err)
}

func TestFullDumpFailurePropagatesDumpError(t *testing.T) {
	out := filepath.Join(t.TempDir(), "full.sql")
	fakeBinary(t, "psql", "exit 0\n")
	fakeBinary(t, "pg_dump", "echo 'connection refused' >&2; exit 1\n")

	err := FullDump(context.Background(), out, testDSN(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTenantDumpWritesPreambleAndTableFlags(t *testing.T) {
	out := filepath.Join(t.TempDir(), "tenant.sql")
	fakeBinary(t, "pg_dump", `
case "$*" in
  *--table=tenants.orders*--table=tenants.invoices*) exit 0 ;;
  *) echo "missing table flags: $*" >&2; exit 1 ;;
esac
`)

	err := TenantDump(context.Background(), out, "tenant-42", testDSN(), []string{"tenants.orders", "tenants.invoices"})
	assert.NoError(t, err)
}

func TestPGRestoreToleratesAlreadyExistsWarnings(t *testing.T) {
	fakeBinary(t, "pg_restore", "echo 'relation \"x\" already exists' >&2; echo 'table \"y\" does not exist' >&2; exit 1\n")

	err := PGRestore(context.Background(), "dump.sql", testDSN(), false)
	assert.NoError(t, err)
}

func TestPGRestoreFailsOnUntoleratedError(t *testing.T) {
	fakeBinary(t, "pg_restore", "echo 'fatal: out of disk space' >&2; exit 1\n")

	err := PGRestore(context.Background(), "dump.sql", testDSN(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of disk space")
}
