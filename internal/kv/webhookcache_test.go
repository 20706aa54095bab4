package kv

import (
	"context"
	"testing"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedWebhookCache(t *testing.T) (*WebhookCache, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return &WebhookCache{rdb: db}, mock
}

func TestMarkDeliveredSetsKeyWithTTL(t *testing.T) {
	cache, mock := newMockedWebhookCache(t)
	ctx := context.Background()

	mock.ExpectSet("webhook:delivered:sig-1:sub-1", "delivered", 10*time.Minute).SetVal("OK")

	err := cache.MarkDelivered(ctx, "sig-1", "sub-1", 10*time.Minute)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWasDeliveredTrue(t *testing.T) {
	cache, mock := newMockedWebhookCache(t)
	ctx := context.Background()

	mock.ExpectGet("webhook:delivered:sig-1:sub-1").SetVal("delivered")

	ok, err := cache.WasDelivered(ctx, "sig-1", "sub-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWasDeliveredFalseWhenAbsent(t *testing.T) {
	cache, mock := newMockedWebhookCache(t)
	ctx := context.Background()

	mock.ExpectGet("webhook:delivered:sig-2:sub-1").RedisNil()

	ok, err := cache.WasDelivered(ctx, "sig-2", "sub-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

var _ = redisv8.Nil
