package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, mode FailMode) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	l, err := NewLimiter(NewRedisStore(client, "test"), mode)
	require.NoError(t, err)
	return l, mr
}

func TestNewLimiterRequiresExplicitFailMode(t *testing.T) {
	_, err := NewLimiter(NewMemoryStore(), FailModeUnset)
	require.Error(t, err)
	_, err = NewLimiter(nil, FailOpen)
	require.Error(t, err)
}

func TestConsumeWithinBudget(t *testing.T) {
	l, _ := newRedisLimiter(t, FailOpen)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		res, err := l.Consume(ctx, "user-1", CategoryAuth)
		require.NoError(t, err)
		require.True(t, res.Allowed, "call %d", i)
		require.Equal(t, 10, res.Limit)
		require.Equal(t, 10-i, res.Remaining)
	}
}

func TestConsumeDeniesOverBudgetAndBlocks(t *testing.T) {
	l, mr := newRedisLimiter(t, FailOpen)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := l.Consume(ctx, "user-1", CategoryAuth)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	// 11th call is denied and starts the 5 minute block.
	res, err := l.Consume(ctx, "user-1", CategoryAuth)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 0, res.Remaining)
	require.Equal(t, 5*time.Minute, res.RetryAfter)

	// Still denied after the window itself would have rolled over.
	mr.FastForward(2 * time.Minute)
	res, err = l.Consume(ctx, "user-1", CategoryAuth)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Greater(t, res.RetryAfter, time.Duration(0))

	// Other identities and categories are unaffected.
	res, err = l.Consume(ctx, "user-2", CategoryAuth)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	res, err = l.Consume(ctx, "user-1", CategoryAPI)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	// Once the block lapses the budget is fresh.
	mr.FastForward(5 * time.Minute)
	res, err = l.Consume(ctx, "user-1", CategoryAuth)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 9, res.Remaining)
}

func TestConsumeWindowRollsOverWithoutBlock(t *testing.T) {
	l, mr := newRedisLimiter(t, FailOpen)
	ctx := context.Background()

	// The api category has no block, so a denial only lasts until the
	// window resets.
	for i := 0; i < 100; i++ {
		_, err := l.Consume(ctx, "user-1", CategoryAPI)
		require.NoError(t, err)
	}
	res, err := l.Consume(ctx, "user-1", CategoryAPI)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.LessOrEqual(t, res.RetryAfter, time.Minute)

	mr.FastForward(time.Minute + time.Second)
	res, err = l.Consume(ctx, "user-1", CategoryAPI)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestConsumeFailOpen(t *testing.T) {
	l, mr := newRedisLimiter(t, FailOpen)
	mr.Close()

	res, err := l.Consume(context.Background(), "user-1", CategoryAPI)
	require.Error(t, err)
	require.True(t, res.Allowed)
}

func TestConsumeFailClosed(t *testing.T) {
	l, mr := newRedisLimiter(t, FailClosed)
	mr.Close()

	res, err := l.Consume(context.Background(), "user-1", CategoryAPI)
	require.Error(t, err)
	require.False(t, res.Allowed)
}

func TestMemoryStoreWindows(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	count, ttl, err := store.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	count, _, err = store.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	// A new window starts once the old one expires.
	now = now.Add(61 * time.Second)
	count, _, err = store.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	require.NoError(t, store.SetBlock(ctx, "b", time.Minute))
	d, err := store.BlockTTL(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, time.Minute, d)

	now = now.Add(2 * time.Minute)
	d, err = store.BlockTTL(ctx, "b")
	require.NoError(t, err)
	require.Zero(t, d)
}

func TestParseFailMode(t *testing.T) {
	mode, err := ParseFailMode("open")
	require.NoError(t, err)
	require.Equal(t, FailOpen, mode)

	mode, err = ParseFailMode(" Closed ")
	require.NoError(t, err)
	require.Equal(t, FailClosed, mode)

	_, err = ParseFailMode("")
	require.Error(t, err)
	_, err = ParseFailMode("maybe")
	require.Error(t, err)
}
