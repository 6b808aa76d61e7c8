package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/unlock.lua
var unlockScript string

//go:embed scripts/sync_inventory.lua
var syncInventoryScript string

type Client struct {
	rdb          *redis.Client
	unlockScript *redis.Script
	syncScript   *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return &Client{
		rdb:          rdb,
		unlockScript: redis.NewScript(unlockScript),
		syncScript:   redis.NewScript(syncInventoryScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AcquireLock takes lock:<name> for ttl. The returned token must be passed to
// ReleaseLock; ok is false when someone else holds the lock.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = c.rdb.SetNX(ctx, "lock:"+name, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return token, ok, nil
}

// ReleaseLock deletes lock:<name> if token still owns it.
func (c *Client) ReleaseLock(ctx context.Context, name, token string) error {
	if err := c.unlockScript.Run(ctx, c.rdb, []string{"lock:" + name}, token).Err(); err != nil {
		return fmt.Errorf("unlock script failed: %w", err)
	}
	return nil
}

func idempotencyKey(userID int64, key string) string {
	return fmt.Sprintf("idempotency:%d:%s", userID, key)
}

// RememberOrder maps a user's idempotency key to the order it produced.
func (c *Client) RememberOrder(ctx context.Context, userID int64, key string, orderID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(userID, key), orderID, ttl).Err()
}

// LookupOrder returns the order id cached for an idempotency key.
func (c *Client) LookupOrder(ctx context.Context, userID int64, key string) (int64, bool, error) {
	id, err := c.rdb.Get(ctx, idempotencyKey(userID, key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// SyncInventory stores an availability snapshot in inventory:<product_id>.
func (c *Client) SyncInventory(ctx context.Context, productID int64, available, reserved int) error {
	key := fmt.Sprintf("inventory:%d", productID)
	version := time.Now().UnixNano()
	if err := c.syncScript.Run(ctx, c.rdb, []string{key}, available, reserved, version).Err(); err != nil {
		return fmt.Errorf("sync inventory script failed: %w", err)
	}
	return nil
}

// GetInventory retrieves the mirrored inventory counts
func (c *Client) GetInventory(ctx context.Context, productID int64) (available, reserved int, err error) {
	key := fmt.Sprintf("inventory:%d", productID)

	result, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if len(result) == 0 {
		return 0, 0, fmt.Errorf("inventory not found for product %d", productID)
	}

	if available, err = strconv.Atoi(result["available"]); err != nil {
		return 0, 0, fmt.Errorf("corrupt inventory mirror for product %d: %w", productID, err)
	}
	if reserved, err = strconv.Atoi(result["reserved"]); err != nil {
		return 0, 0, fmt.Errorf("corrupt inventory mirror for product %d: %w", productID, err)
	}
	return available, reserved, nil
}
