package kv

import (
	"context"
	"fmt"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
)

// WebhookCache caches recent webhook delivery outcomes so C9's dispatcher can
// skip re-sending an alert that already succeeded within its cooldown
// window. Kept on go-redis/redis/v8 rather than migrated to v9, the same way
// the teacher never finished migrating its own webhook-adjacent cache off
// v8 even after adopting v9 everywhere else.
type WebhookCache struct {
	rdb *redisv8.Client
}

// NewWebhookCache dials addr with the v8 client.
func NewWebhookCache(addr string) *WebhookCache {
	return &WebhookCache{
		rdb: redisv8.NewClient(&redisv8.Options{
			Addr:         addr,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		}),
	}
}

// Close releases the underlying connection pool.
func (c *WebhookCache) Close() error { return c.rdb.Close() }

// MarkDelivered records that signalID was successfully delivered to
// subscriberID, guarding against duplicate delivery within ttl.
func (c *WebhookCache) MarkDelivered(ctx context.Context, signalID, subscriberID string, ttl time.Duration) error {
	key := deliveryKey(signalID, subscriberID)
	if err := c.rdb.Set(ctx, key, "delivered", ttl).Err(); err != nil {
		return fmt.Errorf("kv: mark delivered %s: %w", key, err)
	}
	return nil
}

// WasDelivered reports whether signalID was already delivered to
// subscriberID within the cached window.
func (c *WebhookCache) WasDelivered(ctx context.Context, signalID, subscriberID string) (bool, error) {
	key := deliveryKey(signalID, subscriberID)
	_, err := c.rdb.Get(ctx, key).Result()
	if err == redisv8.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv: was delivered %s: %w", key, err)
	}
	return true, nil
}

func deliveryKey(signalID, subscriberID string) string {
	return fmt.Sprintf("webhook:delivered:%s:%s", signalID, subscriberID)
}
