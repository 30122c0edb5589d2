package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T, hourly, daily int) *RedisLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisLimiter(client, hourly, daily)
}

func TestRedisLimiterHourlyCap(t *testing.T) {
	rl := newTestRedisLimiter(t, 2, 100)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := rl.Allow(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, allowed, "send %d should pass", i+1)
	}

	allowed, retryAfter, err := rl.Allow(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter.Seconds(), 0.0)
}

func TestRedisLimiterAccountsAreIndependent(t *testing.T) {
	rl := newTestRedisLimiter(t, 1, 100)
	ctx := context.Background()

	allowed, _, err := rl.Allow(ctx, "acct-1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = rl.Allow(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, _, err = rl.Allow(ctx, "acct-2")
	require.NoError(t, err)
	assert.True(t, allowed, "a capped account must not starve others")
}

func TestRedisLimiterDailyCap(t *testing.T) {
	rl := newTestRedisLimiter(t, 100, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := rl.Allow(ctx, "acct-1")
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, retryAfter, err := rl.Allow(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter.Hours(), 0.0)
}

func TestRedisLimiterZeroCapsDisableScreening(t *testing.T) {
	rl := newTestRedisLimiter(t, 0, 0)
	allowed, _, err := rl.Allow(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}
