package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis (set TEST_REDIS_ADDR)")
	}
	c, err := NewClient(addr, "", 15)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.GetClient().FlushDB(context.Background())
		c.Close()
	})
	return c
}

func TestLockIsOwnedByToken(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	token, ok, err := c.AcquireLock(ctx, "checkout:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, "checkout:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "checkout:1", "someone-else"))
	_, ok, _ = c.AcquireLock(ctx, "checkout:1", time.Minute)
	assert.False(t, ok, "foreign token must not release the lock")

	require.NoError(t, c.ReleaseLock(ctx, "checkout:1", token))
	_, ok, _ = c.AcquireLock(ctx, "checkout:1", time.Minute)
	assert.True(t, ok)
}

func TestIdempotencyMapping(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, found, err := c.LookupOrder(ctx, 1, "abc")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.RememberOrder(ctx, 1, "abc", 42, time.Minute))
	id, found, err := c.LookupOrder(ctx, 1, "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), id)

	_, found, _ = c.LookupOrder(ctx, 2, "abc")
	assert.False(t, found, "keys are scoped per user")
}

func TestInventoryMirror(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SyncInventory(ctx, 9, 7, 3))
	available, reserved, err := c.GetInventory(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 7, available)
	assert.Equal(t, 3, reserved)

	_, _, err = c.GetInventory(ctx, 10)
	assert.Error(t, err)
}
