// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/codec"
	"github.com/vaultkeeper/engine/internal/dumpdriver"
	"github.com/vaultkeeper/engine/internal/logging"
	"github.com/vaultkeeper/engine/internal/metrics"
)

const (
	drRunbookLockTTL    = 2 * time.Hour
	drSuccessBudget     = time.Hour
	healthCheckAttempts = 30
	healthCheckInterval = 10 * time.Second
)

// ProcessRestarter best-effort restarts the application's serving
// processes during step 5 of the runbook. A deployment backs this with
// whatever actually manages its workload (pod orchestrator, container
// runtime, process supervisor); when none is wired in, the runbook
// records "manual_required" and continues — restart failure is never
// fatal to the recovery itself.
type ProcessRestarter interface {
	Restart(ctx context.Context) error
}

// DRRunbookReport records the outcome and per-step timing of one
// disaster-recovery execution (§4.6.8).
type DRRunbookReport struct {
	BackupID        string
	RestoreID       string
	Success         bool
	StepDurations   map[string]float64
	RestartOutcome  string
	HealthCheckPass bool
	TotalSeconds    float64
}

// DRRunbook executes the seven-step manual disaster-recovery procedure:
// select a backup, download it preferring remote-A then remote-B then
// local, decrypt and decompress it, pg_restore with clean=true, attempt
// an application restart, poll a health check, and note the traffic
// routing step as a placeholder the deployment wires in. Success
// requires the whole procedure to finish within one hour.
func (o *Orchestrator) DRRunbook(ctx context.Context, taskID, backupID, healthCheckURL string, restarter ProcessRestarter) (DRRunbookReport, error) {
	var report DRRunbookReport
	err := o.runLocked(ctx, "disaster_recovery_runbook", taskID, drRunbookLockTTL, func(ctx context.Context) error {
		r, err := o.runDRRunbook(ctx, backupID, healthCheckURL, restarter)
		report = r
		return err
	})
	return report, err
}

func (o *Orchestrator) runDRRunbook(ctx context.Context, backupID, healthCheckURL string, restarter ProcessRestarter) (DRRunbookReport, error) {
	report := DRRunbookReport{StepDurations: map[string]float64{}}
	overallStart := time.Now()

	b, err := o.selectDRBackup(ctx, backupID)
	if err != nil {
		return report, err
	}
	report.BackupID = b.ID

	r := &catalog.RestoreRecord{
		BackupID: b.ID, Initiator: "operator", Mode: catalog.ModeFull,
		Status: catalog.RestoreInProgress, CreatedAt: time.Now().UTC(), Metadata: map[string]any{},
	}
	if err := o.Store.CreateRestore(ctx, r); err != nil {
		return report, err
	}
	report.RestoreID = r.ID

	dir, err := o.tempDir("dr-runbook")
	if err != nil {
		return o.failDR(ctx, r, report, "temp_dir", err)
	}
	defer os.RemoveAll(dir)

	if err := step(&report, "download", func() error {
		return o.downloadPreferred(ctx, b, joinPath(dir, b.Filename))
	}); err != nil {
		return o.failDR(ctx, r, report, "download", err)
	}

	dumpPath := joinPath(dir, "restore.sql")
	if err := step(&report, "decrypt_and_decompress", func() error {
		_, err := codec.DecryptAndDecompress(o.Key, joinPath(dir, b.Filename), dumpPath, false)
		return err
	}); err != nil {
		return o.failDR(ctx, r, report, "decrypt_and_decompress", err)
	}

	if err := step(&report, "pg_restore", func() error {
		return dumpdriver.PGRestore(ctx, dumpPath, o.DSN, true)
	}); err != nil {
		return o.failDR(ctx, r, report, "pg_restore", err)
	}

	restartApplication(ctx, &report, restarter)
	runHealthCheck(ctx, &report, healthCheckURL)
	report.StepDurations["traffic_routing"] = 0 // placeholder: deployment wires its own router/LB cutover here

	r.Status = catalog.RestoreCompleted
	r.DurationSeconds = time.Since(overallStart).Seconds()
	metrics.RestoreDuration.WithLabelValues(string(r.Mode)).Observe(r.DurationSeconds)
	r.Metadata["step_durations"] = report.StepDurations
	r.Metadata["restart_outcome"] = report.RestartOutcome
	r.Metadata["health_check_passed"] = report.HealthCheckPass
	if err := o.Store.UpdateRestore(ctx, r); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to persist completed DR runbook restore record")
	}

	report.TotalSeconds = r.DurationSeconds
	report.Success = report.TotalSeconds < drSuccessBudget.Seconds()
	if o.Monitor != nil {
		o.Monitor.CheckRestoreOutcome(ctx, r)
	}
	logging.CtxInfo(ctx).Str("restore_id", r.ID).Float64("total_seconds", report.TotalSeconds).Bool("success", report.Success).Msg("disaster recovery runbook finished")
	return report, nil
}

func (o *Orchestrator) selectDRBackup(ctx context.Context, backupID string) (*catalog.BackupRecord, error) {
	if backupID != "" {
		return o.Store.GetBackup(ctx, backupID)
	}
	candidates, err := o.Store.ListBackups(ctx, catalog.BackupFilter{
		Kind: catalog.KindFullDB,
		Statuses: []catalog.BackupStatus{catalog.StatusCompleted, catalog.StatusVerified},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no completed full-database backup available for disaster recovery")
	}
	return candidates[0], nil
}

func (o *Orchestrator) failDR(ctx context.Context, r *catalog.RestoreRecord, report DRRunbookReport, step string, cause error) (DRRunbookReport, error) {
	r.Status = catalog.RestoreFailed
	r.ErrorMessage = fmt.Sprintf("%s: %v", step, cause)
	r.Metadata["step_durations"] = report.StepDurations
	if err := o.Store.UpdateRestore(ctx, r); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to persist failed DR runbook restore record")
	}
	if o.Monitor != nil {
		o.Monitor.CheckRestoreOutcome(ctx, r)
	}
	return report, cause
}

func step(report *DRRunbookReport, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	report.StepDurations[name] = time.Since(start).Seconds()
	return err
}

// restartApplication attempts the orchestrator-of-pods/container-runtime
// restart via the injected ProcessRestarter; a nil restarter or any
// restart error is recorded as "manual_required" and never fails the
// runbook outright (§4.6.8 step 5 is best-effort).
func restartApplication(ctx context.Context, report *DRRunbookReport, restarter ProcessRestarter) {
	start := time.Now()
	defer func() { report.StepDurations["restart_application"] = time.Since(start).Seconds() }()

	if restarter == nil {
		report.RestartOutcome = "manual_required"
		return
	}
	if err := restarter.Restart(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("application restart failed; manual intervention required")
		report.RestartOutcome = "manual_required"
		return
	}
	report.RestartOutcome = "restarted"
}

// runHealthCheck polls healthCheckURL up to healthCheckAttempts times,
// 10 seconds apart. An empty URL or exhausted attempts is non-fatal —
// the runbook still completes, just without a confirmed green health
// check.
func runHealthCheck(ctx context.Context, report *DRRunbookReport, healthCheckURL string) {
	start := time.Now()
	defer func() { report.StepDurations["health_check"] = time.Since(start).Seconds() }()

	if healthCheckURL == "" {
		return
	}
	client := &http.Client{Timeout: 5 * time.Second}
	for attempt := 0; attempt < healthCheckAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthCheckURL, nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode < 300 {
					report.HealthCheckPass = true
					return
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(healthCheckInterval):
		}
	}
}
