// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package orchestrator

import (
	"context"
	"time"
)

const alertDigestLockTTL = 10 * time.Minute

// AlertDigest runs the supplemented daily alert-rollup task (§12),
// delegating composition to the Monitor since it alone holds the
// Notifier and the alert counting queries.
func (o *Orchestrator) AlertDigest(ctx context.Context, taskID string, window time.Duration) error {
	return o.runLocked(ctx, "alert_digest", taskID, alertDigestLockTTL, func(ctx context.Context) error {
		if o.Monitor == nil {
			return nil
		}
		return o.Monitor.SendAlertDigest(ctx, window)
	})
}
