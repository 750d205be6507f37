// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/vaultkeeper/engine/internal/config"
	"github.com/vaultkeeper/engine/internal/logging"
)

// Scheduler runs every periodic pipeline as its own supervised suture
// service, generalizing the teacher's layered SupervisorTree (one root
// with per-concern child supervisors) down to a single root: every
// pipeline here is equally critical and none depends on another's
// uptime, so there is no isolation boundary worth a child layer.
type Scheduler struct {
	root *suture.Supervisor
}

// NewScheduler builds a Scheduler wired to run every SPEC_FULL pipeline
// on its configured interval against o.
func NewScheduler(o *Orchestrator, sched config.ScheduleConfig, walSourceDir string, wellKnownPaths, integrityTables []string) *Scheduler {
	logger := slog.Default()
	handler := &sutureslog.Handler{Logger: logger}
	spec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	}
	root := suture.New("vaultkeeper-scheduler", spec)

	root.Add(&tickerService{name: "full_backup", interval: sched.FullBackupInterval, run: func(ctx context.Context) error {
		_, err := o.FullBackup(ctx, logging.GenerateCorrelationID())
		return err
	}})
	root.Add(&tickerService{name: "tenant_backup", interval: sched.TenantBackupInterval, run: func(ctx context.Context) error {
		_, err := o.TenantBackup(ctx, logging.GenerateCorrelationID(), "")
		return err
	}})
	root.Add(&tickerService{name: "wal_archive", interval: sched.WALArchiveInterval, run: func(ctx context.Context) error {
		return o.WALArchive(ctx, logging.GenerateCorrelationID(), walSourceDir)
	}})
	root.Add(&tickerService{name: "config_backup", interval: sched.ConfigBackupInterval, run: func(ctx context.Context) error {
		_, err := o.ConfigBackup(ctx, logging.GenerateCorrelationID(), wellKnownPaths)
		return err
	}})
	root.Add(&tickerService{name: "cleanup", interval: sched.CleanupInterval, run: func(ctx context.Context) error {
		_, err := o.Cleanup(ctx, logging.GenerateCorrelationID())
		return err
	}})
	root.Add(&tickerService{name: "integrity_verify", interval: sched.IntegrityCheckInterval, run: func(ctx context.Context) error {
		_, err := o.IntegrityVerify(ctx, logging.GenerateCorrelationID())
		return err
	}})
	root.Add(&tickerService{name: "test_restore", interval: sched.TestRestoreInterval, run: func(ctx context.Context) error {
		_, err := o.TestRestore(ctx, logging.GenerateCorrelationID(), integrityTables)
		return err
	}})
	root.Add(&tickerService{name: "alert_digest", interval: sched.AlertDigestInterval, run: func(ctx context.Context) error {
		return o.AlertDigest(ctx, logging.GenerateCorrelationID(), sched.AlertDigestInterval)
	}})

	return &Scheduler{root: root}
}

// Serve blocks, running every pipeline on its ticker until ctx is
// canceled. The disaster-recovery runbook is deliberately absent here —
// §4.6.8 triggers it manually, never on a schedule.
func (s *Scheduler) Serve(ctx context.Context) error {
	return s.root.Serve(ctx)
}

// tickerService adapts a periodic func(ctx) error into a suture.Service.
// A failing run is logged by Serve and the pipeline runs again on the
// next tick; it never stops the service outright.
type tickerService struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

func (t *tickerService) Serve(ctx context.Context) error {
	if t.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.run(ctx); err != nil {
				logging.Ctx(ctx).Error().Err(err).Str("pipeline", t.name).Msg("scheduled pipeline run returned an error")
			}
		}
	}
}

func (t *tickerService) String() string { return "pipeline:" + t.name }
