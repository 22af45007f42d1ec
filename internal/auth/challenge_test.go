package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/authcore/internal/auth"
)

func newMemoryStore(t *testing.T) *auth.MemoryChallengeStore {
	store := auth.NewMemoryChallengeStore(time.Minute)
	t.Cleanup(store.Stop)
	return store
}

func TestMemoryChallengeStore_ConsumeOnMatch(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "acct-1", "123456", time.Minute))

	ok, err := store.TakeIfMatch(ctx, "acct-1", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	// Single use: the same code is gone after one successful match.
	ok, err = store.TakeIfMatch(ctx, "acct-1", "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryChallengeStore_MismatchLeavesCode(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "acct-1", "123456", time.Minute))

	ok, err := store.TakeIfMatch(ctx, "acct-1", "654321")
	require.NoError(t, err)
	assert.False(t, ok)

	// The wrong guess did not burn the real code.
	ok, err = store.TakeIfMatch(ctx, "acct-1", "123456")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryChallengeStore_Expiry(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "acct-1", "123456", -time.Second))

	ok, err := store.TakeIfMatch(ctx, "acct-1", "123456")
	require.NoError(t, err)
	assert.False(t, ok, "an expired code never matches")
}

func TestMemoryChallengeStore_PutReplaces(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "acct-1", "111111", time.Minute))
	require.NoError(t, store.Put(ctx, "acct-1", "222222", time.Minute))

	ok, err := store.TakeIfMatch(ctx, "acct-1", "111111")
	require.NoError(t, err)
	assert.False(t, ok, "a resend invalidates the previous code")

	ok, err = store.TakeIfMatch(ctx, "acct-1", "222222")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryChallengeStore_KeysAreIndependent(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "acct-1", "123456", time.Minute))
	require.NoError(t, store.Put(ctx, "acct-2", "123456", time.Minute))

	ok, err := store.TakeIfMatch(ctx, "acct-1", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TakeIfMatch(ctx, "acct-2", "123456")
	require.NoError(t, err)
	assert.True(t, ok)
}

func newRedisStore(t *testing.T) *auth.RedisChallengeStore {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return auth.NewRedisChallengeStore(client)
}

func TestRedisChallengeStore_ConsumeOnMatch(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "acct-1", "123456", time.Minute))

	ok, err := store.TakeIfMatch(ctx, "acct-1", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TakeIfMatch(ctx, "acct-1", "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisChallengeStore_MismatchLeavesCode(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "acct-1", "123456", time.Minute))

	ok, err := store.TakeIfMatch(ctx, "acct-1", "654321")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.TakeIfMatch(ctx, "acct-1", "123456")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisChallengeStore_MissingKey(t *testing.T) {
	store := newRedisStore(t)

	ok, err := store.TakeIfMatch(context.Background(), "acct-unknown", "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}
