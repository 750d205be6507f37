// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

// Package main is the entry point for the vaultkeeper backup engine.
//
// Running with no arguments starts the long-running daemon: it loads
// configuration, wires every collaborator (Catalog, lock service, storage
// backends, dump driver, Monitor), and hands the eight periodic pipelines
// to a suture-supervised scheduler until SIGINT/SIGTERM.
//
// A single pipeline can instead be triggered once and exited, for cron-less
// deployments that prefer an external scheduler (Kubernetes CronJob, systemd
// timer) driving vaultkeeper directly:
//
//	vaultkeeper trigger -type=full
//	vaultkeeper trigger -type=tenant -tenant-id=<uuid>
//	vaultkeeper trigger -type=config
//	vaultkeeper trigger -type=wal
//	vaultkeeper trigger -type=cleanup
//	vaultkeeper trigger -type=integrity
//	vaultkeeper trigger -type=test-restore
//	vaultkeeper trigger -type=dr-runbook [-backup-id=<uuid>] [-health-check-url=<url>]
//	vaultkeeper trigger -type=alert-digest
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/codec"
	"github.com/vaultkeeper/engine/internal/config"
	"github.com/vaultkeeper/engine/internal/dumpdriver"
	"github.com/vaultkeeper/engine/internal/lockservice"
	"github.com/vaultkeeper/engine/internal/logging"
	"github.com/vaultkeeper/engine/internal/monitor"
	"github.com/vaultkeeper/engine/internal/orchestrator"
	"github.com/vaultkeeper/engine/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: formatOf(cfg.Logging.Human)})
	logging.Logger().Info().Msg("starting vaultkeeper")

	o, err := wireOrchestrator(cfg)
	if err != nil {
		logging.Logger().Fatal().Err(err).Msg("failed to initialize engine")
	}
	defer o.Store.Close()
	defer o.Locks.Close()

	if len(os.Args) > 1 && os.Args[1] == "trigger" {
		runTrigger(o, cfg, os.Args[2:])
		return
	}

	runDaemon(o, cfg)
}

func formatOf(human bool) string {
	if human {
		return "console"
	}
	return "json"
}

// wireOrchestrator builds every collaborator the orchestrator needs from
// configuration: the Catalog, the lock service, the storage backend map,
// the codec key, and the Monitor (wired to a webhook notifier when
// alerting.webhook_url is set, otherwise alerts are recorded but never
// sent anywhere).
func wireOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, error) {
	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	locks, err := lockservice.Open(cfg.Lock.Dir)
	if err != nil {
		return nil, fmt.Errorf("open lock service: %w", err)
	}

	backends, err := storage.NewFromConfig(storage.Config{
		LocalBaseDir: cfg.Storage.LocalBaseDir,
		R2:           s3CompatConfigOf("r2", cfg.Storage.R2),
		B2:           s3CompatConfigOf("b2", cfg.Storage.B2),
	})
	if err != nil {
		return nil, fmt.Errorf("build storage backends: %w", err)
	}

	key, err := codec.ParseKey(cfg.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("parse encryption key: %w", err)
	}

	var notifier monitor.Notifier
	if cfg.Alerting.WebhookURL != "" {
		notifier = monitor.NewWebhookNotifier(cfg.Alerting.WebhookURL, nil)
	}
	mon := monitor.New(store, notifier)

	dsn := dumpdriver.DSN{
		Host: cfg.Database.Host, Port: cfg.Database.Port, Database: cfg.Database.Name,
		User: cfg.Database.User, Password: cfg.Database.Password, SSLMode: cfg.Database.SSLMode,
	}

	o := orchestrator.New(store, locks, backends, mon, noTenantSource{}, dsn, key, cfg.Storage.LocalBaseDir)
	return o, nil
}

func s3CompatConfigOf(name string, c config.S3BackendConfig) storage.S3CompatConfig {
	return storage.S3CompatConfig{
		Name: name, Enabled: c.Enabled, Endpoint: c.Endpoint, Region: c.Region, Bucket: c.Bucket,
		AccessKeyID: c.AccessKeyID, SecretAccessKey: c.SecretAccessKey, RatePerSecond: c.RatePerSecond,
	}
}

// noTenantSource is the default TenantSource when no external tenant
// registry is wired in: per-tenant backups are a no-op until a deployment
// supplies its own implementation (e.g. a thin client over its own
// tenant-management API).
type noTenantSource struct{}

func (noTenantSource) ListActiveTenants(context.Context) ([]string, error) { return nil, nil }

// runDaemon starts the suture-supervised scheduler and blocks until a
// termination signal is received.
func runDaemon(o *orchestrator.Orchestrator, cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := orchestrator.NewScheduler(o, cfg.Schedule, cfg.Database.WALArchiveDir, wellKnownConfigPaths, integrityCheckTables)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Logger().Info().Msg("shutdown signal received")
		cancel()
	}()

	logging.Logger().Info().Msg("scheduler running")
	if err := sched.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Logger().Error().Err(err).Msg("scheduler exited unexpectedly")
	}
	logging.Logger().Info().Msg("vaultkeeper stopped gracefully")
}

// wellKnownConfigPaths are the directories/files the config-backup
// pipeline archives; adjust per deployment layout.
var wellKnownConfigPaths = []string{"/etc/vaultkeeper", "/etc/postgresql"}

// integrityCheckTables are sampled by the monthly test-restore drill to
// confirm referential integrity survived the restore.
var integrityCheckTables = []string{"tenants"}

// runTrigger runs exactly one pipeline to completion and exits, for
// deployments that prefer an external scheduler over vaultkeeper's own.
func runTrigger(o *orchestrator.Orchestrator, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	kind := fs.String("type", "", "pipeline to run: full|tenant|config|wal|cleanup|integrity|test-restore|dr-runbook|alert-digest")
	tenantID := fs.String("tenant-id", "", "tenant UUID (type=tenant only)")
	backupID := fs.String("backup-id", "", "backup UUID to restore (type=dr-runbook only; defaults to latest completed or verified full backup)")
	healthCheckURL := fs.String("health-check-url", "", "post-restore health check URL (type=dr-runbook only)")
	if err := fs.Parse(args); err != nil {
		logging.Logger().Fatal().Err(err).Msg("failed to parse trigger flags")
	}

	taskID := uuid.NewString()
	ctx := context.Background()

	var runErr error
	switch *kind {
	case "full":
		_, runErr = o.FullBackup(ctx, taskID)
	case "tenant":
		if *tenantID == "" {
			logging.Logger().Fatal().Msg("-tenant-id is required for type=tenant")
		}
		_, runErr = o.TenantBackup(ctx, taskID, *tenantID)
	case "config":
		_, runErr = o.ConfigBackup(ctx, taskID, wellKnownConfigPaths)
	case "wal":
		runErr = o.WALArchive(ctx, taskID, cfg.Database.WALArchiveDir)
	case "cleanup":
		_, runErr = o.Cleanup(ctx, taskID)
	case "integrity":
		_, runErr = o.IntegrityVerify(ctx, taskID)
	case "test-restore":
		_, runErr = o.TestRestore(ctx, taskID, integrityCheckTables)
	case "dr-runbook":
		_, runErr = o.DRRunbook(ctx, taskID, *backupID, *healthCheckURL, nil)
	case "alert-digest":
		window := cfg.Alerting.DigestWindow
		if window == 0 {
			window = time.Hour
		}
		runErr = o.AlertDigest(ctx, taskID, window)
	default:
		logging.Logger().Fatal().Str("type", *kind).Msg("unknown trigger -type")
	}

	if runErr != nil {
		logging.Logger().Error().Err(runErr).Str("type", *kind).Str("task_id", taskID).Msg("pipeline failed")
		os.Exit(1)
	}
	logging.Logger().Info().Str("type", *kind).Str("task_id", taskID).Msg("pipeline completed")
}
