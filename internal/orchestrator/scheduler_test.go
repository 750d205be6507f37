// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vaultkeeper/engine/internal/config"
)

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	o := newTestOrchestrator(t)
	sched := config.ScheduleConfig{
		FullBackupInterval: time.Hour, TenantBackupInterval: time.Hour, WALArchiveInterval: time.Hour,
		ConfigBackupInterval: time.Hour, CleanupInterval: time.Hour, IntegrityCheckInterval: time.Hour,
		TestRestoreInterval: time.Hour, AlertDigestInterval: time.Hour,
	}
	s := NewScheduler(o, sched, t.TempDir(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := s.Serve(ctx)
	assert.Error(t, err) // suture returns the root context's cancellation cause
}
