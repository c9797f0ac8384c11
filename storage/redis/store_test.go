package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulFidika/subledger/entitlements"
	"github.com/PaulFidika/subledger/siws"
	"github.com/PaulFidika/subledger/storage/storagetest"
)

// testClient connects to SUBLEDGER_TEST_REDIS_ADDR or skips.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("SUBLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SUBLEDGER_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// isolated returns a prefix unique to the test and removes its keys afterwards.
func isolated(t *testing.T, rdb *redis.Client) string {
	prefix := "subledger-test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		iter := rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			rdb.Del(ctx, iter.Val())
		}
	})
	return prefix
}

func TestStoreConformance(t *testing.T) {
	rdb := testClient(t)
	storagetest.Run(t, func(t *testing.T) entitlements.Backend {
		return New(rdb, WithPrefix(isolated(t, rdb)))
	})
}

func TestChallengeCacheRoundTrip(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	c := NewChallengeCache(rdb, isolated(t, rdb), time.Minute)

	data := siws.ChallengeData{Address: "addr", Message: "msg", ExpiresAt: time.Now().Add(time.Minute).UTC()}
	require.NoError(t, c.Put(ctx, "n1", data))

	got, ok, err := c.Get(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data.Message, got.Message)

	got, ok, err = c.Take(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data.Address, got.Address)
	_, ok, err = c.Take(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok, "a nonce is taken once")
	_, ok, err = c.Get(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok)
}
