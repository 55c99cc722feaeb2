package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/clear_settled.lua
var clearSettledLua string

var clearSettledScript = redis.NewScript(clearSettledLua)

// Client is the cart store. A user's cart is a hash of sku id -> quantity
// plus a set holding the sku ids selected for checkout.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an existing connection
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping is used by the readiness check
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func cartKey(userID int64) string {
	return fmt.Sprintf("cart_%d", userID)
}

func selectedKey(userID int64) string {
	return fmt.Sprintf("cart_selected_%d", userID)
}

// GetCartQuantities returns every sku in the cart with its quantity
func (c *Client) GetCartQuantities(ctx context.Context, userID int64) (map[int64]int, error) {
	raw, err := c.rdb.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}

	quantities := make(map[int64]int, len(raw))
	for field, value := range raw {
		skuID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid sku id %q in cart: %w", field, err)
		}
		count, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid quantity %q for sku %d: %w", value, skuID, err)
		}
		quantities[skuID] = count
	}

	return quantities, nil
}

// GetSelectedItems returns the sku ids selected for checkout
func (c *Client) GetSelectedItems(ctx context.Context, userID int64) ([]int64, error) {
	members, err := c.rdb.SMembers(ctx, selectedKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cart selection: %w", err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid selected sku id %q: %w", m, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// ClearSelected removes the given skus from both the cart and the selection
// in a single MULTI/EXEC round trip.
func (c *Client) ClearSelected(ctx context.Context, userID int64, skuIDs []int64) error {
	if len(skuIDs) == 0 {
		return nil
	}

	fields := make([]string, len(skuIDs))
	members := make([]interface{}, len(skuIDs))
	for i, id := range skuIDs {
		fields[i] = strconv.FormatInt(id, 10)
		members[i] = fields[i]
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, cartKey(userID), fields...)
		pipe.SRem(ctx, selectedKey(userID), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear cart selection: %w", err)
	}
	return nil
}

// AddItem puts a sku in the cart, optionally selecting it for checkout
func (c *Client) AddItem(ctx context.Context, userID, skuID int64, count int, selected bool) error {
	field := strconv.FormatInt(skuID, 10)

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, cartKey(userID), field, int64(count))
		if selected {
			pipe.SAdd(ctx, selectedKey(userID), field)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add cart item: %w", err)
	}
	return nil
}

// ClearSettled removes settled entries whose quantity is still the settled
// one. Entries the user changed since settlement are left alone. It reports
// how many entries were removed.
func (c *Client) ClearSettled(ctx context.Context, userID int64, settled map[int64]int) (int, error) {
	if len(settled) == 0 {
		return 0, nil
	}

	args := make([]interface{}, 0, 2*len(settled))
	for skuID, count := range settled {
		args = append(args, strconv.FormatInt(skuID, 10), strconv.Itoa(count))
	}

	removed, err := clearSettledScript.Run(ctx, c.rdb, []string{cartKey(userID), selectedKey(userID)}, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to clear settled cart entries: %w", err)
	}
	return removed, nil
}
