package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulFidika/subledger/entitlements"
	"github.com/PaulFidika/subledger/siws"
	"github.com/PaulFidika/subledger/storage/storagetest"
)

func TestStoreConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) entitlements.Backend { return New() })
}

func TestChallengeCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewChallengeCache(time.Minute).WithClock(func() time.Time { return now })
	defer c.Close()

	require.NoError(t, c.Put(ctx, "n1", siws.ChallengeData{Address: "a", Message: "m"}))
	got, ok, err := c.Get(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m", got.Message)

	now = now.Add(2 * time.Minute)
	_, ok, err = c.Get(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire after the cache ttl")
}

func TestChallengeCacheHonoursChallengeExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewChallengeCache(time.Hour).WithClock(func() time.Time { return now })
	defer c.Close()

	require.NoError(t, c.Put(ctx, "n1", siws.ChallengeData{ExpiresAt: now.Add(time.Minute)}))
	now = now.Add(90 * time.Second)
	c.cleanup()
	_, ok, err := c.Get(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChallengeCacheTakeAndDoubleClose(t *testing.T) {
	ctx := context.Background()
	c := NewChallengeCache(0)
	require.NoError(t, c.Put(ctx, "n1", siws.ChallengeData{Message: "m"}))
	got, ok, err := c.Take(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m", got.Message)
	_, ok, _ = c.Take(ctx, "n1")
	assert.False(t, ok, "a nonce is taken once")
	_, ok, _ = c.Get(ctx, "n1")
	assert.False(t, ok)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
