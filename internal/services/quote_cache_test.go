package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-simulator/internal/logger"
)

func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		rdb.FlushDB(context.Background())
		_ = rdb.Close()
	})
	return rdb
}

func TestCachedQuoteSourceReadsThrough(t *testing.T) {
	rdb := redisForTest(t)
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	inner := newFixedQuotes("AAPL", "101.25", "MSFT", "400")
	c := NewCachedQuoteSource(inner, rdb, time.Minute, logger.Discard())
	ctx := context.Background()

	prices, err := c.LastPrices(ctx, []string{"AAPL", "MSFT", "NOPE"})
	require.NoError(t, err)
	assert.Len(t, prices, 2)
	assert.Equal(t, 1, inner.calls)

	inner.set("AAPL", "1")
	prices, err = c.LastPrices(ctx, []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.True(t, prices["AAPL"].Equal(dec("101.25")), "served from cache")
	assert.Equal(t, 1, inner.calls)

	ttl, err := rdb.TTL(ctx, quoteKeyPrefix+"AAPL").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestCachedQuoteSourceDegradesWithoutRedis(t *testing.T) {
	// Nothing listens on this port; every cache call fails fast.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	inner := newFixedQuotes("AAPL", "10")
	c := NewCachedQuoteSource(inner, rdb, time.Minute, logger.Discard())

	prices, err := c.LastPrices(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.True(t, prices["AAPL"].Equal(dec("10")))
}
