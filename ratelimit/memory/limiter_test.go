package memorylimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(map[string]Limit{"verify": {Limit: 2, Window: time.Minute}}).WithClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "verify", "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "verify", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "verify", "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	now = now.Add(time.Minute + time.Millisecond)
	ok, err = l.Allow(ctx, "verify", "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok, "window has slid past earlier requests")
}

func TestDefaultsAndValidation(t *testing.T) {
	ctx := context.Background()
	l := New(map[string]Limit{"default": {Limit: 1, Window: time.Hour}})
	ok, _ := l.Allow(ctx, "other", "k")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "other", "k")
	assert.False(t, ok)

	_, err := l.Allow(ctx, "", "k")
	assert.Error(t, err)

	var nilLimiter *Limiter
	ok, err = nilLimiter.Allow(ctx, "x", "y")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(nil).WithClock(func() time.Time { return now })
	_, _ = l.Allow(context.Background(), "b", "k")
	require.Len(t, l.buckets, 1)

	now = now.Add(2 * time.Minute)
	l.Prune()
	assert.Empty(t, l.buckets)
}
