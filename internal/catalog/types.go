// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

// Package catalog is the durable record of every backup, restore
// attempt, and alert (§3, §4.4): the single source of truth for what
// exists and where. Backed by an embedded DuckDB database, generalizing
// the teacher's in-memory audit.Store filtering shape onto durable SQL
// storage.
package catalog

import "time"

// BackupKind enumerates the four artifact kinds (§3).
type BackupKind string

const (
	KindFullDB BackupKind = "FULL_DB"
	KindTenant BackupKind = "TENANT"
	KindWAL    BackupKind = "WAL"
	KindConfig BackupKind = "CONFIG"
)

// BackupStatus enumerates the monotonic BackupRecord lifecycle (§3).
type BackupStatus string

const (
	StatusInProgress BackupStatus = "IN_PROGRESS"
	StatusCompleted  BackupStatus = "COMPLETED"
	StatusVerified   BackupStatus = "VERIFIED"
	StatusFailed     BackupStatus = "FAILED"
)

// BackupRecord is one produced artifact.
type BackupRecord struct {
	ID                string
	Kind              BackupKind
	TenantID          string // optional
	Filename          string
	SizeBytes         int64
	Checksum          string // 64-char hex sha256, once terminal
	LocalPath         string
	R2Path            string
	B2Path            string
	Status            BackupStatus
	CompressionRatio  float64
	DurationSeconds   float64
	Metadata          map[string]any
	CreatedAt         time.Time
	VerifiedAt        *time.Time
	JobID             string
	CreatedBy         string
	Notes             string
}

// HasAnyRemotePath reports whether at least one of R2Path/B2Path is set.
func (b *BackupRecord) HasAnyRemotePath() bool {
	return b.R2Path != "" || b.B2Path != ""
}

// AllPathsEmpty reports whether local/R2/B2 are all cleared, the
// condition under which cleanup deletes the record entirely (§4.6.5).
func (b *BackupRecord) AllPathsEmpty() bool {
	return b.LocalPath == "" && b.R2Path == "" && b.B2Path == ""
}

// RestoreMode enumerates RestoreRecord.Mode (§3). PITR is declared but
// deliberately left unimplemented (§9) — it is not part of the RTO/RPO
// guarantee.
type RestoreMode string

const (
	ModeFull  RestoreMode = "FULL"
	ModeMerge RestoreMode = "MERGE"
	ModePITR  RestoreMode = "PITR"
)

// RestoreStatus enumerates RestoreRecord.Status (§3).
type RestoreStatus string

const (
	RestoreInProgress RestoreStatus = "IN_PROGRESS"
	RestoreCompleted  RestoreStatus = "COMPLETED"
	RestoreFailed     RestoreStatus = "FAILED"
)

// RestoreRecord is one restore attempt.
type RestoreRecord struct {
	ID              string
	BackupID        string
	Initiator       string
	Mode            RestoreMode
	TargetTimestamp *time.Time // PITR only
	Status          RestoreStatus
	Reason          string
	TenantIDs       []string
	RowsRestored    int64
	DurationSeconds float64
	ErrorMessage    string
	Metadata        map[string]any
	CreatedAt       time.Time
}

// AlertKind enumerates Alert.Kind (§3).
type AlertKind string

const (
	AlertBackupFailure     AlertKind = "BACKUP_FAILURE"
	AlertSizeDeviation     AlertKind = "SIZE_DEVIATION"
	AlertDurationThreshold AlertKind = "DURATION_THRESHOLD"
	AlertStorageCapacity   AlertKind = "STORAGE_CAPACITY"
	AlertIntegrityFailure  AlertKind = "INTEGRITY_FAILURE"
	AlertRestoreFailure    AlertKind = "RESTORE_FAILURE"
	AlertCleanupSummary    AlertKind = "CLEANUP_SUMMARY"
)

// AlertSeverity enumerates Alert.Severity (§3).
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityError    AlertSeverity = "ERROR"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// AlertStatus enumerates Alert.Status (§3).
type AlertStatus string

const (
	AlertActive       AlertStatus = "ACTIVE"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertResolved     AlertStatus = "RESOLVED"
)

// Alert is one anomaly notification.
type Alert struct {
	ID                  string
	Kind                AlertKind
	Severity            AlertSeverity
	Message             string
	Details             map[string]any
	BackupID            string
	RestoreID           string
	Status              AlertStatus
	NotificationChannels []string
	NotificationSentAt  *time.Time
	CreatedAt           time.Time
	ResolvedAt          *time.Time
}

// BackupFilter selects BackupRecords for ListBackups/FindOldest.
type BackupFilter struct {
	Kind           BackupKind
	Statuses       []BackupStatus
	TenantID       string
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	HasLocalPath   *bool
	HasRemotePath  *bool
	Limit          int
}

// AlertFilter selects Alerts for ListAlerts.
type AlertFilter struct {
	Status   AlertStatus
	Severity AlertSeverity
	Since    *time.Time
	Kind     AlertKind
}
