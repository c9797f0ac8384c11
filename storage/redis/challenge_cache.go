package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PaulFidika/subledger/siws"
)

// ChallengeCache stores pending SIWS challenges in Redis so any replica can complete a
// sign-in started on another.
type ChallengeCache struct {
	rdb   redis.UniversalClient
	keyNS string
	ttl   time.Duration
}

// NewChallengeCache creates a Redis-backed challenge cache.
func NewChallengeCache(rdb redis.UniversalClient, keyPrefix string, ttl time.Duration) *ChallengeCache {
	if keyPrefix == "" {
		keyPrefix = "subledger:siws:nonce:"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ChallengeCache{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (c *ChallengeCache) key(nonce string) string { return c.keyNS + nonce }

// Put stores a challenge until the earlier of the cache TTL and the challenge's own expiry.
func (c *ChallengeCache) Put(ctx context.Context, nonce string, data siws.ChallengeData) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	ttl := c.ttl
	if !data.ExpiresAt.IsZero() {
		if left := time.Until(data.ExpiresAt); left > 0 && left < ttl {
			ttl = left
		}
	}
	return c.rdb.Set(ctx, c.key(nonce), b, ttl).Err()
}

func (c *ChallengeCache) Get(ctx context.Context, nonce string) (siws.ChallengeData, bool, error) {
	return decodeChallenge(c.rdb.Get(ctx, c.key(nonce)).Bytes())
}

// Take uses GETDEL (Redis 6.2+), so replicas racing on one nonce cannot both consume it.
func (c *ChallengeCache) Take(ctx context.Context, nonce string) (siws.ChallengeData, bool, error) {
	return decodeChallenge(c.rdb.GetDel(ctx, c.key(nonce)).Bytes())
}

func decodeChallenge(val []byte, err error) (siws.ChallengeData, bool, error) {
	if errors.Is(err, redis.Nil) {
		return siws.ChallengeData{}, false, nil
	}
	if err != nil {
		return siws.ChallengeData{}, false, err
	}
	var d siws.ChallengeData
	if err := json.Unmarshal(val, &d); err != nil {
		return siws.ChallengeData{}, false, err
	}
	return d, true, nil
}
