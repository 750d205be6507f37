// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

// Package dumpdriver is the one place in the engine where a shell-out is
// required: it invokes the target database's native logical-dump and
// restore tools via an explicit argument vector, never an interpolated
// shell string, passing credentials through the environment only.
package dumpdriver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/vaultkeeper/engine/internal/logging"
	"github.com/vaultkeeper/engine/internal/vaulterrors"
)

const (
	dumpTimeout    = time.Hour
	restoreTimeout = 2 * time.Hour
)

// toleratedStderrSubstrings are scanned for before a restore's non-zero
// exit is escalated to a real failure (§4.3, §8).
var toleratedStderrSubstrings = []string{"already exists", "does not exist"}

// DSN is the superset of connection parameters the dump/restore tools
// need; Password is never placed on the command line.
type DSN struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

func (d DSN) connArgs() []string {
	port := d.Port
	if port == 0 {
		port = 5432
	}
	return []string{
		"--host=" + d.Host,
		fmt.Sprintf("--port=%d", port),
		"--username=" + d.User,
		"--dbname=" + d.Database,
	}
}

func runWithPassword(ctx context.Context, password string, name string, args []string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+password)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

func toleratedFailure(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, substr := range toleratedStderrSubstrings {
		if strings.Contains(lower, substr) {
			return true
		}
	}
	return false
}

// FullDump exports every table in dsn.Database as plain SQL text to
// outPath. It brackets the export with a disable/re-enable of row-level
// security FORCE on tenant-owning tables so the logical export can read
// every tenant's rows; the teardown always runs, even on failure, and a
// teardown error is logged but never fails the dump.
func FullDump(ctx context.Context, outPath string, dsn DSN, rlsForceTables []string) error {
	ctx, cancel := context.WithTimeout(ctx, dumpTimeout)
	defer cancel()

	if err := setRLSForce(ctx, dsn, rlsForceTables, false); err != nil {
		return &vaulterrors.DumpError{Kind: "full", Err: fmt.Errorf("disable RLS force: %w", err)}
	}
	defer func() {
		if err := setRLSForce(context.WithoutCancel(ctx), dsn, rlsForceTables, true); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("re-enable RLS force failed after full_dump; verify manually")
		}
	}()

	args := append(dsn.connArgs(),
		"--verbose",
		"--no-owner",
		"--no-acl",
		"--format=plain",
		"--file="+outPath,
	)
	_, stderr, err := runWithPassword(ctx, dsn.Password, "pg_dump", args)
	if err != nil {
		return &vaulterrors.DumpError{Kind: "full", Err: fmt.Errorf("pg_dump failed: %w: %s", err, stderr)}
	}
	return nil
}

// TenantDump exports only the allow-listed tables. It writes a
// session-level tenant-context preamble (SET app.current_tenant_id) beside
// outPath and removes it when the dump ends, but the preamble is not
// passed to pg_dump, so the exported rows are not restricted to the
// tenant; only the --table allow-list limits what is dumped.
func TenantDump(ctx context.Context, outPath, tenantID string, dsn DSN, tenantTables []string) error {
	ctx, cancel := context.WithTimeout(ctx, dumpTimeout)
	defer cancel()

	preamblePath := outPath + ".preamble.sql"
	preamble := fmt.Sprintf("SET app.current_tenant_id = '%s';\n", strings.ReplaceAll(tenantID, "'", "''"))
	if err := os.WriteFile(preamblePath, []byte(preamble), 0o600); err != nil {
		return &vaulterrors.DumpError{Kind: "tenant", Err: fmt.Errorf("write preamble: %w", err)}
	}
	defer os.Remove(preamblePath)

	args := dsn.connArgs()
	args = append(args, "--verbose", "--no-owner", "--no-acl", "--format=plain", "--file="+outPath)
	for _, table := range tenantTables {
		args = append(args, "--table="+table)
	}
	_, stderr, err := runWithPassword(ctx, dsn.Password, "pg_dump", args)
	if err != nil {
		return &vaulterrors.DumpError{Kind: "tenant", Err: fmt.Errorf("pg_dump failed: %w: %s", err, stderr)}
	}
	return nil
}

// PGRestore loads dump into dsn.Database using 4 parallel worker
// threads. When clean is true (FULL restore mode only), it drops
// existing objects first. A non-zero exit whose stderr contains either of
// the tolerated "already exists"/"does not exist" substrings is treated
// as success.
func PGRestore(ctx context.Context, dump string, dsn DSN, clean bool) error {
	ctx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()

	args := dsn.connArgs()
	args = append(args, "--jobs=4")
	if clean {
		args = append(args, "--clean", "--if-exists")
	}
	args = append(args, dump)

	_, stderr, err := runWithPassword(ctx, dsn.Password, "pg_restore", args)
	if err != nil {
		if toleratedFailure(stderr) {
			logging.Ctx(ctx).Warn().Str("dump", dump).Msg("pg_restore reported tolerated already-exists/does-not-exist warnings")
			return nil
		}
		return &vaulterrors.RestoreError{Err: fmt.Errorf("pg_restore failed: %w: %s", err, stderr)}
	}
	return nil
}

// CreateDatabase issues CREATE DATABASE against the server identified by
// dsn (whose Database field names the admin/maintenance database to
// connect to, not the one being created) — used by the monthly
// test-restore pipeline to stand up a throwaway target.
func CreateDatabase(ctx context.Context, dsn DSN, name string) error {
	args := dsn.connArgs()
	args = append(args, "--command=CREATE DATABASE "+quoteIdentifier(name))
	_, stderr, err := runWithPassword(ctx, dsn.Password, "psql", args)
	if err != nil {
		return fmt.Errorf("create database %s failed: %w: %s", name, err, stderr)
	}
	return nil
}

// DropDatabase issues DROP DATABASE IF EXISTS ... WITH (FORCE) against
// the server identified by dsn, disconnecting any lingering session from
// the throwaway test-restore target before removing it.
func DropDatabase(ctx context.Context, dsn DSN, name string) error {
	args := dsn.connArgs()
	args = append(args, "--command=DROP DATABASE IF EXISTS "+quoteIdentifier(name)+" WITH (FORCE)")
	_, stderr, err := runWithPassword(ctx, dsn.Password, "psql", args)
	if err != nil {
		return fmt.Errorf("drop database %s failed: %w: %s", name, err, stderr)
	}
	return nil
}

// RunQuery executes a single statement via psql in unaligned,
// tuple-only mode and returns its raw stdout, one row per line with
// columns separated by "|". This is the engine's only way to read back
// from the target database outside of pg_dump/pg_restore — the rest of
// the stack never depends on a native Postgres driver.
func RunQuery(ctx context.Context, dsn DSN, sql string) (string, error) {
	args := dsn.connArgs()
	args = append(args, "--tuples-only", "--no-align", "--field-separator=|", "--command="+sql)
	stdout, stderr, err := runWithPassword(ctx, dsn.Password, "psql", args)
	if err != nil {
		return "", fmt.Errorf("query failed: %w: %s", err, stderr)
	}
	return stdout, nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// setRLSForce toggles ROW LEVEL SECURITY FORCE on each table via psql
// -c, committed outside any ambient transaction so the change is visible
// to the subsequent pg_dump subprocess.
func setRLSForce(ctx context.Context, dsn DSN, tables []string, enable bool) error {
	if len(tables) == 0 {
		return nil
	}
	verb := "NO FORCE"
	if enable {
		verb = "FORCE"
	}
	var stmts strings.Builder
	for _, table := range tables {
		fmt.Fprintf(&stmts, "ALTER TABLE %s %s ROW LEVEL SECURITY;\n", table, verb)
	}

	args := dsn.connArgs()
	args = append(args, "--command="+stmts.String())
	_, stderr, err := runWithPassword(ctx, dsn.Password, "psql", args)
	if err != nil {
		return fmt.Errorf("psql failed: %w: %s", err, stderr)
	}
	return nil
}
