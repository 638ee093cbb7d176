package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"pizzaflow/internal/models"

	"github.com/go-redis/redis/v8"
)

const (
	stockKeyPrefix  = "inventory:"
	kitchenQueueKey = "kitchen:active_orders"
	defaultStockTTL = 10 * time.Minute
)

// Client holds read models in Redis. Nothing here is authoritative; the database is.
type Client struct {
	rdb      *redis.Client
	stockTTL time.Duration
}

// NewClient creates a new Redis client
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

	return NewClientFromRedis(rdb), nil
}

// NewClientFromRedis wraps an existing go-redis client.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, stockTTL: defaultStockTTL}
}

// WithStockTTL sets how long a stock snapshot lives. Non-positive values keep the default.
func (c *Client) WithStockTTL(ttl time.Duration) *Client {
	if ttl > 0 {
		c.stockTTL = ttl
	}
	return c
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks connectivity for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID string) string {
	return stockKeyPrefix + productID
}

// CacheStock stores a snapshot of a stock item.
func (c *Client) CacheStock(ctx context.Context, item *models.StockItem) error {
	key := stockKey(item.ProductID)

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"id", item.ID,
		"name", item.ProductName,
		"quantity", item.Quantity,
		"reserved", item.ReservedQuantity,
		"version", item.Version,
	)
	pipe.Expire(ctx, key, c.stockTTL)

	_, err := pipe.Exec(ctx)
	return err
}

// GetCachedStock returns the snapshot for productID, or nil when it is not cached.
func (c *Client) GetCachedStock(ctx context.Context, productID string) (*models.StockItem, error) {
	result, err := c.rdb.HGetAll(ctx, stockKey(productID)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	item := &models.StockItem{ProductID: productID, ProductName: result["name"]}
	if item.ID, err = strconv.ParseInt(result["id"], 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt stock snapshot for %s: %w", productID, err)
	}
	if item.Quantity, err = strconv.Atoi(result["quantity"]); err != nil {
		return nil, fmt.Errorf("corrupt stock snapshot for %s: %w", productID, err)
	}
	if item.ReservedQuantity, err = strconv.Atoi(result["reserved"]); err != nil {
		return nil, fmt.Errorf("corrupt stock snapshot for %s: %w", productID, err)
	}
	if item.Version, err = strconv.ParseInt(result["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt stock snapshot for %s: %w", productID, err)
	}
	return item, nil
}

// InvalidateStock drops a snapshot.
func (c *Client) InvalidateStock(ctx context.Context, productID string) error {
	return c.rdb.Del(ctx, stockKey(productID)).Err()
}

// PutKitchenOrder adds or replaces an order in the active kitchen queue.
func (c *Client) PutKitchenOrder(ctx context.Context, ko *models.KitchenOrder) error {
	body, err := json.Marshal(ko)
	if err != nil {
		return err
	}
	return c.rdb.HSet(ctx, kitchenQueueKey, strconv.FormatInt(ko.OrderID, 10), body).Err()
}

// RemoveKitchenOrder drops an order from the active queue.
func (c *Client) RemoveKitchenOrder(ctx context.Context, orderID int64) error {
	return c.rdb.HDel(ctx, kitchenQueueKey, strconv.FormatInt(orderID, 10)).Err()
}

// ListKitchenOrders returns the active queue oldest first. An empty result may mean the
// queue was lost; callers fall back to the database.
func (c *Client) ListKitchenOrders(ctx context.Context) ([]models.KitchenOrder, error) {
	result, err := c.rdb.HGetAll(ctx, kitchenQueueKey).Result()
	if err != nil {
		return nil, err
	}

	orders := make([]models.KitchenOrder, 0, len(result))
	for field, body := range result {
		var ko models.KitchenOrder
		if err := json.Unmarshal([]byte(body), &ko); err != nil {
			return nil, fmt.Errorf("corrupt kitchen entry %s: %w", field, err)
		}
		orders = append(orders, ko)
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].OrderID < orders[j].OrderID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}
