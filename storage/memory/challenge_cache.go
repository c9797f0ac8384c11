package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/PaulFidika/subledger/siws"
)

// ChallengeCache is an in-memory siws.ChallengeCache. Entries expire after the cache TTL or at
// the challenge's own expiry, whichever comes first.
type ChallengeCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	data   map[string]challengeItem
	closed chan struct{}
	once   sync.Once
}

type challengeItem struct {
	v   siws.ChallengeData
	exp time.Time
}

// NewChallengeCache creates a cache with the given TTL (15 minutes if ttl <= 0) and starts a
// background sweep that runs every minute until Close.
func NewChallengeCache(ttl time.Duration) *ChallengeCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	c := &ChallengeCache{ttl: ttl, now: time.Now, data: make(map[string]challengeItem), closed: make(chan struct{})}
	go c.cleanupLoop()
	return c
}

// WithClock swaps the time source; used by tests.
func (c *ChallengeCache) WithClock(now func() time.Time) *ChallengeCache {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

func (c *ChallengeCache) Put(_ context.Context, nonce string, v siws.ChallengeData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp := c.now().Add(c.ttl)
	if !v.ExpiresAt.IsZero() && v.ExpiresAt.Before(exp) {
		exp = v.ExpiresAt
	}
	c.data[nonce] = challengeItem{v: v, exp: exp}
	return nil
}

func (c *ChallengeCache) Get(_ context.Context, nonce string) (siws.ChallengeData, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.data[nonce]
	if !ok {
		return siws.ChallengeData{}, false, nil
	}
	if c.now().After(it.exp) {
		delete(c.data, nonce)
		return siws.ChallengeData{}, false, nil
	}
	return it.v, true, nil
}

func (c *ChallengeCache) Take(_ context.Context, nonce string) (siws.ChallengeData, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.data[nonce]
	if !ok {
		return siws.ChallengeData{}, false, nil
	}
	delete(c.data, nonce)
	if c.now().After(it.exp) {
		return siws.ChallengeData{}, false, nil
	}
	return it.v, true, nil
}

func (c *ChallengeCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.closed:
			return
		}
	}
}

func (c *ChallengeCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, v := range c.data {
		if now.After(v.exp) {
			delete(c.data, k)
		}
	}
}

// Close stops the background sweep. It is safe to call more than once.
func (c *ChallengeCache) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
