package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/meterwise/meterwise/internal/idempotency"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type outcome struct {
	Success   bool     `json:"success"`
	Remaining *float64 `json:"remaining,omitempty"`
}

func newTestStore(t *testing.T) *idempotency.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return idempotency.NewStore(client, zap.NewNop(), time.Minute)
}

func TestLookupMissing(t *testing.T) {
	store := newTestStore(t)

	var out outcome
	found, err := store.Lookup(context.Background(), "h1", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReserveThenComplete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reserved, err := store.Reserve(ctx, "h1")
	require.NoError(t, err)
	require.True(t, reserved)

	// A second reservation for the same hash loses.
	reserved, err = store.Reserve(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, reserved)

	// A lookup while pending signals in-flight, not found.
	var out outcome
	_, err = store.Lookup(ctx, "h1", &out)
	assert.ErrorIs(t, err, idempotency.ErrPending)

	remaining := 20.0
	require.NoError(t, store.Complete(ctx, "h1", outcome{Success: true, Remaining: &remaining}))

	found, err := store.Lookup(ctx, "h1", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, out.Success)
	require.NotNil(t, out.Remaining)
	assert.Equal(t, 20.0, *out.Remaining)
}

func TestReleaseReopensTheKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reserved, err := store.Reserve(ctx, "h1")
	require.NoError(t, err)
	require.True(t, reserved)

	store.Release(ctx, "h1")

	// A retry after a released reservation executes again.
	reserved, err = store.Reserve(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestHashIsStablePerRequest(t *testing.T) {
	h1 := idempotency.Hash("42", "api-calls", 30, "k1")
	h2 := idempotency.Hash("42", "api-calls", 30, "k1")
	assert.Equal(t, h1, h2)

	assert.NotEqual(t, h1, idempotency.Hash("42", "api-calls", 31, "k1"))
	assert.NotEqual(t, h1, idempotency.Hash("42", "api-calls", 30, "k2"))
	assert.NotEqual(t, h1, idempotency.Hash("42", "seats", 30, "k1"))
	assert.NotEqual(t, h1, idempotency.Hash("7", "api-calls", 30, "k1"))
}
