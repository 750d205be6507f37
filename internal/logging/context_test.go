package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := ContextWithNewCorrelationID(context.Background())
	id := CorrelationIDFromContext(ctx)
	require.Len(t, id, 8)

	ctx2 := ContextWithCorrelationID(context.Background(), "abc123")
	assert.Equal(t, "abc123", CorrelationIDFromContext(ctx2))

	assert.Empty(t, CorrelationIDFromContext(context.Background()))
}

func TestCtxEmitsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewTestLogger(&buf))
	ctx = ContextWithCorrelationID(ctx, "run-42")

	CtxInfo(ctx).Msg("backup started")

	assert.Contains(t, buf.String(), `"correlation_id":"run-42"`)
	assert.Contains(t, buf.String(), `"message":"backup started"`)
}
