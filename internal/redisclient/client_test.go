package redisclient

import (
	"context"
	"os"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	return NewFromRedis(rdb)
}

func randomUser(t *testing.T, c *Client) int64 {
	t.Helper()
	userID := int64(gofakeit.Number(1, 1<<30))
	t.Cleanup(func() {
		c.rdb.Del(context.Background(), cartKey(userID), selectedKey(userID))
	})
	return userID
}

func TestCartReadback(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()
	userID := randomUser(t, c)

	require.NoError(t, c.AddItem(ctx, userID, 1, 2, true))
	require.NoError(t, c.AddItem(ctx, userID, 2, 1, false))
	require.NoError(t, c.AddItem(ctx, userID, 1, 1, true))

	quantities, err := c.GetCartQuantities(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{1: 3, 2: 1}, quantities)

	selected, err := c.GetSelectedItems(ctx, userID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1}, selected)
}

func TestClearSelected(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()
	userID := randomUser(t, c)

	require.NoError(t, c.AddItem(ctx, userID, 1, 2, true))
	require.NoError(t, c.AddItem(ctx, userID, 2, 1, true))
	require.NoError(t, c.AddItem(ctx, userID, 3, 5, false))

	require.NoError(t, c.ClearSelected(ctx, userID, []int64{1, 2}))

	quantities, err := c.GetCartQuantities(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{3: 5}, quantities)

	selected, err := c.GetSelectedItems(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, selected)

	assert.NoError(t, c.ClearSelected(ctx, userID, nil))
}

func TestGetCartQuantities_Corrupt(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()
	userID := randomUser(t, c)

	require.NoError(t, c.rdb.HSet(ctx, cartKey(userID), "abc", "1").Err())

	_, err := c.GetCartQuantities(ctx, userID)
	assert.Error(t, err)
}

func TestClearSettled_KeepsChangedEntries(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()
	userID := randomUser(t, c)

	require.NoError(t, c.AddItem(ctx, userID, 1, 2, true))
	require.NoError(t, c.AddItem(ctx, userID, 2, 1, true))
	require.NoError(t, c.AddItem(ctx, userID, 3, 4, true))

	// the user put sku 2 back in the cart after settling one
	require.NoError(t, c.AddItem(ctx, userID, 2, 1, true))

	removed, err := c.ClearSettled(ctx, userID, map[int64]int{1: 2, 2: 1, 9: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	quantities, err := c.GetCartQuantities(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{2: 2, 3: 4}, quantities)

	selected, err := c.GetSelectedItems(ctx, userID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3}, selected)

	removed, err = c.ClearSettled(ctx, userID, nil)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
