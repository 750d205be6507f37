package lockservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultkeeper/engine/internal/vaulterrors"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestAcquireThenContend(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	key := TaskRunKey("daily_full_database_backup", "run-1")

	require.NoError(t, svc.Acquire(ctx, key, "task-a", time.Minute))

	err := svc.Acquire(ctx, key, "task-b", time.Minute)
	require.Error(t, err)
	var contention *vaulterrors.LockContentionError
	assert.True(t, errors.As(err, &contention))
}

func TestReleaseAllowsReacquire(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	key := TenantKey("tenant-42")

	require.NoError(t, svc.Acquire(ctx, key, "run-1", time.Minute))
	svc.Release(ctx, key)

	require.NoError(t, svc.Acquire(ctx, key, "run-2", time.Minute))
}

func TestTTLExpiryAllowsReacquire(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	key := TenantKey("tenant-7")

	require.NoError(t, svc.Acquire(ctx, key, "run-1", 50*time.Millisecond))
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, svc.Acquire(ctx, key, "run-2", time.Minute))
}
