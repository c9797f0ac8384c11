package ginutil

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Rate limit buckets.
const (
	RLWalletChallenge = "challenge"
	RLWalletVerify    = "verify"
	RLMutate          = "mutate"
	RLDefault         = "default"
)

// RateLimiter is satisfied by ratelimit/memory and ratelimit/redis.
type RateLimiter interface {
	Allow(ctx context.Context, bucket, key string) (bool, error)
}

// RateKey identifies the caller for limiting: the principal when authenticated, else the
// client IP.
func RateKey(c *gin.Context) string {
	if v, ok := c.Get(KeyPrincipal); ok {
		if s, ok := v.(string); ok && s != "" {
			return "p:" + s
		}
	}
	return "ip:" + c.ClientIP()
}

// AllowNamed consults rl for bucket. A nil limiter allows everything; a limiter error is
// logged and the request allowed.
func AllowNamed(c *gin.Context, rl RateLimiter, bucket string) bool {
	if rl == nil {
		return true
	}
	ok, err := rl.Allow(c.Request.Context(), bucket, RateKey(c))
	if err != nil {
		logrus.WithError(err).WithField("bucket", bucket).Warn("rate limiter unavailable")
		return true
	}
	return ok
}
