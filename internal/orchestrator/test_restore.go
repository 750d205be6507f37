// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/codec"
	"github.com/vaultkeeper/engine/internal/dumpdriver"
	"github.com/vaultkeeper/engine/internal/logging"
)

const (
	testRestoreLockTTL = time.Hour
	testRestoreWindow  = 7 * 24 * time.Hour
	sampleQueryLimit   = 50
)

// IntegrityQueryResult is one post-restore sanity check (§4.6.7 step 5).
type IntegrityQueryResult struct {
	Name    string
	Passed  bool
	Detail  string
}

// TestRestoreReport is the outcome of one monthly throwaway-restore drill.
type TestRestoreReport struct {
	BackupID string
	Passed   bool
	Queries  []IntegrityQueryResult
}

// TestRestore picks a random FULL_DB backup from the last 7 days,
// restores it into a uniquely named throwaway database, runs a battery
// of sanity queries, records the outcome, and always drops the throwaway
// database regardless of outcome (§4.6.7).
func (o *Orchestrator) TestRestore(ctx context.Context, taskID string, integrityTables []string) (TestRestoreReport, error) {
	var report TestRestoreReport
	err := o.runLocked(ctx, "monthly_test_restore", taskID, testRestoreLockTTL, func(ctx context.Context) error {
		r, err := o.runTestRestore(ctx, integrityTables)
		report = r
		return err
	})
	return report, err
}

func (o *Orchestrator) runTestRestore(ctx context.Context, integrityTables []string) (TestRestoreReport, error) {
	var report TestRestoreReport

	since := time.Now().Add(-testRestoreWindow)
	candidates, err := o.Store.ListBackups(ctx, catalog.BackupFilter{
		Kind: catalog.KindFullDB, CreatedAfter: &since,
		Statuses: []catalog.BackupStatus{catalog.StatusCompleted, catalog.StatusVerified},
	})
	if err != nil {
		return report, err
	}
	if len(candidates) == 0 {
		logging.CtxInfo(ctx).Msg("test restore: no eligible full-database backup in the last 7 days")
		return report, nil
	}
	b := candidates[randIndex(len(candidates))]
	report.BackupID = b.ID

	dir, err := o.tempDir("test-restore")
	if err != nil {
		return report, err
	}
	defer os.RemoveAll(dir)

	encPath := joinPath(dir, b.Filename)
	if err := o.downloadPreferred(ctx, b, encPath); err != nil {
		return report, err
	}

	dumpPath := joinPath(dir, "restore.sql")
	if _, err := codec.DecryptAndDecompress(o.Key, encPath, dumpPath, false); err != nil {
		return report, err
	}

	dbName := "vaultkeeper_test_restore_" + randHex(8)
	if err := dumpdriver.CreateDatabase(ctx, o.DSN, dbName); err != nil {
		return report, err
	}
	defer func() {
		if err := dumpdriver.DropDatabase(context.WithoutCancel(ctx), o.DSN, dbName); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("database", dbName).Msg("failed to drop throwaway test-restore database")
		}
	}()

	targetDSN := o.DSN
	targetDSN.Database = dbName
	if err := dumpdriver.PGRestore(ctx, dumpPath, targetDSN, false); err != nil {
		report.Queries = append(report.Queries, IntegrityQueryResult{Name: "pg_restore", Passed: false, Detail: err.Error()})
		o.recordTestRestore(ctx, b, report)
		return report, nil
	}

	report.Queries = append(report.Queries, checkTablesExist(ctx, targetDSN, integrityTables)...)
	report.Queries = append(report.Queries, checkRowCounts(ctx, targetDSN, integrityTables)...)
	report.Queries = append(report.Queries, checkForeignKeyOrphans(ctx, targetDSN)...)
	report.Queries = append(report.Queries, checkNotNullViolations(ctx, targetDSN, integrityTables)...)

	report.Passed = true
	for _, q := range report.Queries {
		if !q.Passed {
			report.Passed = false
			break
		}
	}
	o.recordTestRestore(ctx, b, report)
	return report, nil
}

func (o *Orchestrator) recordTestRestore(ctx context.Context, b *catalog.BackupRecord, report TestRestoreReport) {
	status := catalog.RestoreCompleted
	var errMsg string
	if !report.Passed {
		status = catalog.RestoreFailed
		for _, q := range report.Queries {
			if !q.Passed {
				errMsg = q.Name + ": " + q.Detail
				break
			}
		}
	}
	r := &catalog.RestoreRecord{
		BackupID: b.ID, Initiator: "scheduler", Mode: catalog.ModeFull,
		Status: status, ErrorMessage: errMsg, CreatedAt: time.Now().UTC(),
		Metadata: map[string]any{"drill": true, "queries_run": len(report.Queries)},
	}
	if err := o.Store.CreateRestore(ctx, r); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to persist test-restore drill record")
		return
	}
	if o.Monitor != nil {
		o.Monitor.CheckRestoreOutcome(ctx, r)
	}
}

// downloadPreferred tries backends in A -> B -> Local order per §4.6.8's
// recovery-source preference, the same order the DR runbook uses.
func (o *Orchestrator) downloadPreferred(ctx context.Context, b *catalog.BackupRecord, destPath string) error {
	attempts := []struct {
		backend string
		path    string
	}{
		{"r2", b.R2Path}, {"b2", b.B2Path}, {"local", b.LocalPath},
	}
	var lastErr error
	for _, a := range attempts {
		if a.path == "" {
			continue
		}
		backend, ok := o.Backends[a.backend]
		if !ok {
			continue
		}
		if err := backend.Download(ctx, a.path, destPath); err != nil {
			lastErr = err
			logging.Ctx(ctx).Warn().Err(err).Str("backend", a.backend).Msg("download attempt failed; trying next preferred source")
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("backup %s has no usable path in any backend", b.ID)
	}
	return lastErr
}

func checkTablesExist(ctx context.Context, dsn dumpdriver.DSN, tables []string) []IntegrityQueryResult {
	var results []IntegrityQueryResult
	for _, table := range tables {
		sql := fmt.Sprintf("SELECT to_regclass('%s') IS NOT NULL;", sqlEscape(table))
		out, err := dumpdriver.RunQuery(ctx, dsn, sql)
		passed := err == nil && strings.TrimSpace(out) == "t"
		detail := strings.TrimSpace(out)
		if err != nil {
			detail = err.Error()
		}
		results = append(results, IntegrityQueryResult{Name: "table_exists:" + table, Passed: passed, Detail: detail})
	}
	return results
}

func checkRowCounts(ctx context.Context, dsn dumpdriver.DSN, tables []string) []IntegrityQueryResult {
	var results []IntegrityQueryResult
	for _, table := range tables {
		sql := fmt.Sprintf("SELECT count(*) FROM %s;", table)
		out, err := dumpdriver.RunQuery(ctx, dsn, sql)
		count, convErr := strconv.Atoi(strings.TrimSpace(out))
		passed := err == nil && convErr == nil && count >= 0
		detail := fmt.Sprintf("rows=%s", strings.TrimSpace(out))
		if err != nil {
			detail = err.Error()
		}
		results = append(results, IntegrityQueryResult{Name: "row_count:" + table, Passed: passed, Detail: detail})
	}
	return results
}

// checkForeignKeyOrphans lists up to sampleQueryLimit foreign-key column
// pairs (a multi-column constraint yields one pair per column, each
// checked on its own), then for each pair samples up to sampleQueryLimit
// child rows and counts
// how many have no matching parent row, mirroring the original's
// NOT EXISTS orphan-detection query. Sampling (rather than a full scan)
// keeps the drill fast rather than exhaustive.
func checkForeignKeyOrphans(ctx context.Context, dsn dumpdriver.DSN) []IntegrityQueryResult {
	sql := fmt.Sprintf(`SELECT con.conname, con.conrelid::regclass::text, att_child.attname,
	       con.confrelid::regclass::text, att_parent.attname
	FROM pg_constraint con
	JOIN LATERAL unnest(con.conkey, con.confkey) AS cols(conkey, confkey) ON true
	JOIN pg_attribute att_child ON att_child.attrelid = con.conrelid AND att_child.attnum = cols.conkey
	JOIN pg_attribute att_parent ON att_parent.attrelid = con.confrelid AND att_parent.attnum = cols.confkey
	WHERE con.contype = 'f'
	LIMIT %d;`, sampleQueryLimit)
	out, err := dumpdriver.RunQuery(ctx, dsn, sql)
	if err != nil {
		return []IntegrityQueryResult{{Name: "foreign_key_orphans", Passed: false, Detail: err.Error()}}
	}

	pairs := nonEmptyLines(out)
	if len(pairs) == 0 {
		return []IntegrityQueryResult{{Name: "foreign_key_orphans", Passed: true, Detail: "no foreign-key constraints found"}}
	}

	var results []IntegrityQueryResult
	for _, line := range pairs {
		fields := strings.Split(line, "|")
		if len(fields) != 5 {
			continue
		}
		constraint, childTable, childCol, parentTable, parentCol := fields[0], fields[1], fields[2], fields[3], fields[4]
		countSQL := fmt.Sprintf(`SELECT count(*) FROM (
			SELECT c.%s AS fk_value FROM %s c WHERE c.%s IS NOT NULL LIMIT %d
		) sampled WHERE NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = sampled.fk_value);`,
			childCol, childTable, childCol, sampleQueryLimit, parentTable, parentCol)
		countOut, countErr := dumpdriver.RunQuery(ctx, dsn, countSQL)
		count, convErr := strconv.Atoi(strings.TrimSpace(countOut))
		passed := countErr == nil && convErr == nil && count == 0
		detail := fmt.Sprintf("orphans=%s among up to %d sampled rows", strings.TrimSpace(countOut), sampleQueryLimit)
		if countErr != nil {
			detail = countErr.Error()
		}
		results = append(results, IntegrityQueryResult{Name: "fk_orphans:" + constraint, Passed: passed, Detail: detail})
	}
	return results
}

// checkNotNullViolations finds up to sampleQueryLimit columns marked NOT
// NULL in each of tables, then for each one samples up to
// sampleQueryLimit rows and
// counts how many actually hold NULL, mirroring the original's
// IS NULL violation-count query. A restore that silently dropped a
// NOT NULL constraint, or corrupted a column during the dump/restore
// round trip, surfaces here.
func checkNotNullViolations(ctx context.Context, dsn dumpdriver.DSN, tables []string) []IntegrityQueryResult {
	var results []IntegrityQueryResult
	for _, table := range tables {
		sql := fmt.Sprintf(`SELECT attname FROM pg_attribute WHERE attrelid = '%s'::regclass AND attnotnull AND NOT attisdropped AND attnum > 0 LIMIT %d;`, sqlEscape(table), sampleQueryLimit)
		out, err := dumpdriver.RunQuery(ctx, dsn, sql)
		if err != nil {
			results = append(results, IntegrityQueryResult{Name: "not_null_sample:" + table, Passed: false, Detail: err.Error()})
			continue
		}

		columns := nonEmptyLines(out)
		if len(columns) == 0 {
			results = append(results, IntegrityQueryResult{Name: "not_null_sample:" + table, Passed: true, Detail: "no not-null columns found"})
			continue
		}
		for _, col := range columns {
			col = strings.TrimSpace(col)
			countSQL := fmt.Sprintf(`SELECT count(*) FROM (SELECT %s FROM %s LIMIT %d) sampled WHERE %s IS NULL;`, col, table, sampleQueryLimit, col)
			countOut, countErr := dumpdriver.RunQuery(ctx, dsn, countSQL)
			count, convErr := strconv.Atoi(strings.TrimSpace(countOut))
			passed := countErr == nil && convErr == nil && count == 0
			detail := fmt.Sprintf("nulls=%s among up to %d sampled rows", strings.TrimSpace(countOut), sampleQueryLimit)
			if countErr != nil {
				detail = countErr.Error()
			}
			results = append(results, IntegrityQueryResult{Name: "not_null:" + table + "." + col, Passed: passed, Detail: detail})
		}
	}
	return results
}

func sqlEscape(s string) string { return strings.ReplaceAll(s, "'", "''") }

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func randIndex(n int) int {
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

func randHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
