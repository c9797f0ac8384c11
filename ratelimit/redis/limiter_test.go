package redislimiter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow(t *testing.T) {
	addr := os.Getenv("SUBLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SUBLEDGER_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	l := New(rdb, "subledger-test:rl:"+uuid.NewString()+":", map[string]Limit{"verify": {Limit: 2, Window: time.Minute}})
	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "verify", "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "verify", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	ok, err := l.Allow(context.Background(), "b", "k")
	assert.NoError(t, err)
	assert.True(t, ok)
}
