// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ErrPlatformScopeRequired is returned by every write when ctx does not
// carry catalog.WithPlatformScope — orchestrator writes are always
// cross-tenant and must go through the bypass scope explicitly (§9).
var ErrPlatformScopeRequired = errors.New("catalog write requires platform scope")

// Store is the durable record of BackupRecord/RestoreRecord/Alert,
// backed by an embedded DuckDB database (generalizing the teacher's
// in-memory audit.MemoryStore query shape onto durable SQL storage).
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the catalog database at path. Pass
// path=":memory:" for ephemeral use (tests).
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying DuckDB handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backup_records (
			id VARCHAR PRIMARY KEY,
			kind VARCHAR NOT NULL,
			tenant_id VARCHAR,
			filename VARCHAR NOT NULL,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			checksum VARCHAR,
			local_path VARCHAR,
			r2_path VARCHAR,
			b2_path VARCHAR,
			status VARCHAR NOT NULL,
			compression_ratio DOUBLE NOT NULL DEFAULT 0,
			duration_seconds DOUBLE NOT NULL DEFAULT 0,
			metadata VARCHAR,
			created_at TIMESTAMP NOT NULL,
			verified_at TIMESTAMP,
			job_id VARCHAR,
			created_by VARCHAR,
			notes VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS restore_records (
			id VARCHAR PRIMARY KEY,
			backup_id VARCHAR NOT NULL,
			initiator VARCHAR,
			mode VARCHAR NOT NULL,
			target_timestamp TIMESTAMP,
			status VARCHAR NOT NULL,
			reason VARCHAR,
			tenant_ids VARCHAR,
			rows_restored BIGINT NOT NULL DEFAULT 0,
			duration_seconds DOUBLE NOT NULL DEFAULT 0,
			error_message VARCHAR,
			metadata VARCHAR,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id VARCHAR PRIMARY KEY,
			kind VARCHAR NOT NULL,
			severity VARCHAR NOT NULL,
			message VARCHAR NOT NULL,
			details VARCHAR,
			backup_id VARCHAR,
			restore_id VARCHAR,
			status VARCHAR NOT NULL,
			notification_channels VARCHAR,
			notification_sent_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			resolved_at TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate catalog: %w", err)
		}
	}
	return nil
}

func requirePlatformScope(ctx context.Context) error {
	if !HasPlatformScope(ctx) {
		return ErrPlatformScopeRequired
	}
	return nil
}

func marshalMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMap(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// --- BackupRecord ---

// CreateBackup inserts a new BackupRecord, normally with IN_PROGRESS
// status and empty paths/checksum per §3's lifecycle.
func (s *Store) CreateBackup(ctx context.Context, b *BackupRecord) error {
	if err := requirePlatformScope(ctx); err != nil {
		return err
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	metadata, err := marshalMap(b.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO backup_records
		(id, kind, tenant_id, filename, size_bytes, checksum, local_path, r2_path, b2_path,
		 status, compression_ratio, duration_seconds, metadata, created_at, verified_at, job_id, created_by, notes)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, string(b.Kind), nullable(b.TenantID), b.Filename, b.SizeBytes, nullable(b.Checksum),
		nullable(b.LocalPath), nullable(b.R2Path), nullable(b.B2Path), string(b.Status),
		b.CompressionRatio, b.DurationSeconds, nullable(metadata), b.CreatedAt, b.VerifiedAt,
		nullable(b.JobID), nullable(b.CreatedBy), nullable(b.Notes))
	return err
}

// UpdateBackup overwrites every mutable field of an existing BackupRecord.
// Per §3's invariants, callers must not mutate checksum/size_bytes from
// cleanup paths — that discipline is enforced by the orchestrator, not
// this generic update.
func (s *Store) UpdateBackup(ctx context.Context, b *BackupRecord) error {
	if err := requirePlatformScope(ctx); err != nil {
		return err
	}
	metadata, err := marshalMap(b.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE backup_records SET
		kind=?, tenant_id=?, filename=?, size_bytes=?, checksum=?, local_path=?, r2_path=?, b2_path=?,
		status=?, compression_ratio=?, duration_seconds=?, metadata=?, verified_at=?, job_id=?, created_by=?, notes=?
		WHERE id=?`,
		string(b.Kind), nullable(b.TenantID), b.Filename, b.SizeBytes, nullable(b.Checksum),
		nullable(b.LocalPath), nullable(b.R2Path), nullable(b.B2Path), string(b.Status),
		b.CompressionRatio, b.DurationSeconds, nullable(metadata), b.VerifiedAt,
		nullable(b.JobID), nullable(b.CreatedBy), nullable(b.Notes), b.ID)
	return err
}

// DeleteBackup removes a BackupRecord, e.g. when cleanup finds all three
// path fields empty (§4.6.5 step 3).
func (s *Store) DeleteBackup(ctx context.Context, id string) error {
	if err := requirePlatformScope(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM backup_records WHERE id=?`, id)
	return err
}

// GetBackup fetches a BackupRecord by ID.
func (s *Store) GetBackup(ctx context.Context, id string) (*BackupRecord, error) {
	row := s.db.QueryRowContext(ctx, backupSelectColumns()+` WHERE id=?`, id)
	return scanBackup(row)
}

// ListBackups applies a BackupFilter and returns matches newest first.
func (s *Store) ListBackups(ctx context.Context, filter BackupFilter) ([]*BackupRecord, error) {
	query := backupSelectColumns() + ` WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind=?`
		args = append(args, string(filter.Kind))
	}
	if filter.TenantID != "" {
		query += ` AND tenant_id=?`
		args = append(args, filter.TenantID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	if filter.CreatedAfter != nil {
		query += ` AND created_at > ?`
		args = append(args, *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query += ` AND created_at < ?`
		args = append(args, *filter.CreatedBefore)
	}
	if filter.HasLocalPath != nil {
		if *filter.HasLocalPath {
			query += ` AND local_path IS NOT NULL AND local_path != ''`
		} else {
			query += ` AND (local_path IS NULL OR local_path = '')`
		}
	}
	if filter.HasRemotePath != nil {
		if *filter.HasRemotePath {
			query += ` AND ((r2_path IS NOT NULL AND r2_path != '') OR (b2_path IS NOT NULL AND b2_path != ''))`
		} else {
			query += ` AND (r2_path IS NULL OR r2_path = '') AND (b2_path IS NULL OR b2_path = '')`
		}
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BackupRecord
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AverageSizeAndDuration aggregates size_bytes/duration_seconds over the
// most recent `limit` same-kind COMPLETED/VERIFIED backups created after
// `since`, excluding
// excludeID — the baseline the Monitor's size/duration detectors compare
// against (§4.7).
func (s *Store) AverageSizeAndDuration(ctx context.Context, kind BackupKind, since time.Time, excludeID string, limit int) (avgSize, avgDuration float64, n int, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT size_bytes, duration_seconds FROM backup_records
		WHERE kind=? AND status IN ('COMPLETED','VERIFIED') AND created_at > ? AND id != ?
		ORDER BY created_at DESC LIMIT ?`, string(kind), since, excludeID, limit)
	if err != nil {
		return 0, 0, 0, err
	}
	defer rows.Close()

	var totalSize, totalDuration float64
	for rows.Next() {
		var size int64
		var dur float64
		if err := rows.Scan(&size, &dur); err != nil {
			return 0, 0, 0, err
		}
		totalSize += float64(size)
		totalDuration += dur
		n++
	}
	if n == 0 {
		return 0, 0, 0, rows.Err()
	}
	return totalSize / float64(n), totalDuration / float64(n), n, rows.Err()
}

// FindOldestBackups returns backups older than cutoff, optionally
// restricted to those with a non-empty local or remote path, oldest
// first — the shape both cleanup and the WAL-archive retention sweep need.
func (s *Store) FindOldestBackups(ctx context.Context, cutoff time.Time, filter BackupFilter) ([]*BackupRecord, error) {
	filter.CreatedBefore = &cutoff
	records, err := s.ListBackups(ctx, filter)
	if err != nil {
		return nil, err
	}
	// ListBackups orders newest-first; oldest-first is more useful here.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func backupSelectColumns() string {
	return `SELECT id, kind, tenant_id, filename, size_bytes, checksum, local_path, r2_path, b2_path,
		status, compression_ratio, duration_seconds, metadata, created_at, verified_at, job_id, created_by, notes
		FROM backup_records`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackup(row rowScanner) (*BackupRecord, error) {
	var b BackupRecord
	var kind, status string
	var tenantID, checksum, local, r2, b2, metadata, jobID, createdBy, notes sql.NullString
	var verifiedAt sql.NullTime

	err := row.Scan(&b.ID, &kind, &tenantID, &b.Filename, &b.SizeBytes, &checksum, &local, &r2, &b2,
		&status, &b.CompressionRatio, &b.DurationSeconds, &metadata, &b.CreatedAt, &verifiedAt,
		&jobID, &createdBy, &notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	b.Kind = BackupKind(kind)
	b.Status = BackupStatus(status)
	b.TenantID = tenantID.String
	b.Checksum = checksum.String
	b.LocalPath = local.String
	b.R2Path = r2.String
	b.B2Path = b2.String
	b.JobID = jobID.String
	b.CreatedBy = createdBy.String
	b.Notes = notes.String
	if verifiedAt.Valid {
		b.VerifiedAt = &verifiedAt.Time
	}
	b.Metadata, err = unmarshalMap(metadata.String)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// --- RestoreRecord ---

// CreateRestore inserts a new RestoreRecord, normally IN_PROGRESS.
func (s *Store) CreateRestore(ctx context.Context, r *RestoreRecord) error {
	if err := requirePlatformScope(ctx); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	metadata, err := marshalMap(r.Metadata)
	if err != nil {
		return err
	}
	tenantIDs, err := marshalMap(tenantIDsToMap(r.TenantIDs))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO restore_records
		(id, backup_id, initiator, mode, target_timestamp, status, reason, tenant_ids,
		 rows_restored, duration_seconds, error_message, metadata, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.BackupID, nullable(r.Initiator), string(r.Mode), r.TargetTimestamp, string(r.Status),
		nullable(r.Reason), nullable(tenantIDs), r.RowsRestored, r.DurationSeconds,
		nullable(r.ErrorMessage), nullable(metadata), r.CreatedAt)
	return err
}

// UpdateRestore overwrites the mutable fields of an existing RestoreRecord
// (status, counts, timing, error) once the restore attempt concludes.
func (s *Store) UpdateRestore(ctx context.Context, r *RestoreRecord) error {
	if err := requirePlatformScope(ctx); err != nil {
		return err
	}
	metadata, err := marshalMap(r.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE restore_records SET
		status=?, rows_restored=?, duration_seconds=?, error_message=?, metadata=? WHERE id=?`,
		string(r.Status), r.RowsRestored, r.DurationSeconds, nullable(r.ErrorMessage), nullable(metadata), r.ID)
	return err
}

// GetRestore fetches a RestoreRecord by ID.
func (s *Store) GetRestore(ctx context.Context, id string) (*RestoreRecord, error) {
	row := s.db.QueryRowContext(ctx, restoreSelectColumns()+` WHERE id=?`, id)
	return scanRestore(row)
}

// ListRestores returns restore attempts for backupID, newest first.
func (s *Store) ListRestores(ctx context.Context, backupID string) ([]*RestoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, restoreSelectColumns()+` WHERE backup_id=? ORDER BY created_at DESC`, backupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RestoreRecord
	for rows.Next() {
		r, err := scanRestore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func restoreSelectColumns() string {
	return `SELECT id, backup_id, initiator, mode, target_timestamp, status, reason, tenant_ids,
		rows_restored, duration_seconds, error_message, metadata, created_at FROM restore_records`
}

func scanRestore(row rowScanner) (*RestoreRecord, error) {
	var r RestoreRecord
	var mode, status string
	var initiator, reason, tenantIDs, errMsg, metadata sql.NullString
	var targetTimestamp sql.NullTime

	err := row.Scan(&r.ID, &r.BackupID, &initiator, &mode, &targetTimestamp, &status, &reason, &tenantIDs,
		&r.RowsRestored, &r.DurationSeconds, &errMsg, &metadata, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.Mode = RestoreMode(mode)
	r.Status = RestoreStatus(status)
	r.Initiator = initiator.String
	r.Reason = reason.String
	r.ErrorMessage = errMsg.String
	if targetTimestamp.Valid {
		r.TargetTimestamp = &targetTimestamp.Time
	}
	tm, err := unmarshalMap(tenantIDs.String)
	if err != nil {
		return nil, err
	}
	r.TenantIDs = mapToTenantIDs(tm)
	r.Metadata, err = unmarshalMap(metadata.String)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func tenantIDsToMap(ids []string) map[string]any {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[string]any, len(ids))
	for i, id := range ids {
		m[fmt.Sprintf("%d", i)] = id
	}
	return m
}

func mapToTenantIDs(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for _, v := range m {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// --- Alert ---

// CreateAlert inserts a new Alert, normally ACTIVE.
func (s *Store) CreateAlert(ctx context.Context, a *Alert) error {
	if err := requirePlatformScope(ctx); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	details, err := marshalMap(a.Details)
	if err != nil {
		return err
	}
	channels, err := marshalMap(tenantIDsToMap(a.NotificationChannels))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO alerts
		(id, kind, severity, message, details, backup_id, restore_id, status,
		 notification_channels, notification_sent_at, created_at, resolved_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, string(a.Kind), string(a.Severity), a.Message, nullable(details),
		nullable(a.BackupID), nullable(a.RestoreID), string(a.Status),
		nullable(channels), a.NotificationSentAt, a.CreatedAt, a.ResolvedAt)
	return err
}

// ResolveAlert marks id RESOLVED and stamps resolved_at.
func (s *Store) ResolveAlert(ctx context.Context, id string) error {
	if err := requirePlatformScope(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE alerts SET status=?, resolved_at=? WHERE id=?`,
		string(AlertResolved), time.Now().UTC(), id)
	return err
}

// MarkAlertNotified stamps notification_sent_at after a Notifier call
// succeeds.
func (s *Store) MarkAlertNotified(ctx context.Context, id string, at time.Time) error {
	if err := requirePlatformScope(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE alerts SET notification_sent_at=? WHERE id=?`, at, id)
	return err
}

// DeleteAlert removes an Alert permanently, used by the resolved-alert
// retention sweep.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	if err := requirePlatformScope(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id=?`, id)
	return err
}

// GetAlert fetches an Alert by ID.
func (s *Store) GetAlert(ctx context.Context, id string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, alertSelectColumns()+` WHERE id=?`, id)
	return scanAlert(row)
}

// ListAlerts applies an AlertFilter, newest first.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error) {
	query := alertSelectColumns() + ` WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status=?`
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		query += ` AND severity=?`
		args = append(args, string(filter.Severity))
	}
	if filter.Kind != "" {
		query += ` AND kind=?`
		args = append(args, string(filter.Kind))
	}
	if filter.Since != nil {
		query += ` AND created_at > ?`
		args = append(args, *filter.Since)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListActiveAlerts is ListAlerts with Status=AlertActive.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]*Alert, error) {
	return s.ListAlerts(ctx, AlertFilter{Status: AlertActive})
}

// CountRecentAlerts counts alerts created within the last window,
// optionally restricted to severity (pass "" for any) — backs the
// alert-digest task's summary (§12).
func (s *Store) CountRecentAlerts(ctx context.Context, window time.Duration, severity AlertSeverity) (int, error) {
	since := time.Now().Add(-window)
	query := `SELECT COUNT(*) FROM alerts WHERE created_at > ?`
	args := []any{since}
	if severity != "" {
		query += ` AND severity=?`
		args = append(args, string(severity))
	}
	var n int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// CountAlertsByKind groups alert counts by kind within the last window,
// for the alert-digest task's per-kind breakdown (§12).
func (s *Store) CountAlertsByKind(ctx context.Context, window time.Duration) (map[AlertKind]int, error) {
	since := time.Now().Add(-window)
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM alerts WHERE created_at > ? GROUP BY kind`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[AlertKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[AlertKind(kind)] = n
	}
	return out, rows.Err()
}

func alertSelectColumns() string {
	return `SELECT id, kind, severity, message, details, backup_id, restore_id, status,
		notification_channels, notification_sent_at, created_at, resolved_at FROM alerts`
}

func scanAlert(row rowScanner) (*Alert, error) {
	var a Alert
	var kind, severity, status string
	var details, backupID, restoreID, channels sql.NullString
	var notificationSentAt, resolvedAt sql.NullTime

	err := row.Scan(&a.ID, &kind, &severity, &a.Message, &details, &backupID, &restoreID, &status,
		&channels, &notificationSentAt, &a.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.Kind = AlertKind(kind)
	a.Severity = AlertSeverity(severity)
	a.Status = AlertStatus(status)
	a.BackupID = backupID.String
	a.RestoreID = restoreID.String
	if notificationSentAt.Valid {
		a.NotificationSentAt = &notificationSentAt.Time
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	a.Details, err = unmarshalMap(details.String)
	if err != nil {
		return nil, err
	}
	cm, err := unmarshalMap(channels.String)
	if err != nil {
		return nil, err
	}
	a.NotificationChannels = mapToTenantIDs(cm)
	return &a, nil
}
