// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vaultkeeper/engine/internal/catalog"
	"github.com/vaultkeeper/engine/internal/monitor"
)

func TestAlertDigestIsANoOpWithNoMonitor(t *testing.T) {
	o := newTestOrchestrator(t)
	err := o.AlertDigest(context.Background(), "run-1", time.Hour)
	require.NoError(t, err)
}

// recordingNotifier counts digest emails so a test can see one was sent.
type recordingNotifier struct{ emails int }

func (r *recordingNotifier) CreateInApp(context.Context, string, string) error { return nil }
func (r *recordingNotifier) SendEmail(context.Context, string, string) error {
	r.emails++
	return nil
}
func (r *recordingNotifier) PostWebhook(context.Context, map[string]any) error { return nil }

func TestAlertDigestSendsWhenAlertsExist(t *testing.T) {
	o := newTestOrchestrator(t)
	n := &recordingNotifier{}
	o.Monitor = monitor.New(o.Store, n)

	ctx := scopedCtx()
	require.NoError(t, o.Store.CreateAlert(ctx, &catalog.Alert{
		Kind: catalog.AlertBackupFailure, Severity: catalog.SeverityCritical, Message: "test",
	}))

	err := o.AlertDigest(context.Background(), "run-2", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n.emails)
}
