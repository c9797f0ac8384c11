package authgin

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	core "github.com/PaulFidika/subledger/core"
)

// APIKeyHeader carries operator API keys.
const APIKeyHeader = "X-API-Key"

// AuthRequired resolves the caller from an X-API-Key header or a Bearer token and aborts
// with 401 when neither verifies.
func AuthRequired(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(APIKeyHeader); key != "" {
			caller, name, err := svc.AuthenticateAPIKey(key)
			if err != nil {
				ginutil.Unauthorized(c, "invalid_api_key")
				return
			}
			c.Set("auth.api_key", name)
			ginutil.SetCaller(c, caller, ginutil.SourceAPIKey)
			c.Next()
			return
		}
		raw, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			ginutil.Unauthorized(c, "missing_token")
			return
		}
		caller, err := svc.AuthenticateToken(c.Request.Context(), raw)
		if err != nil {
			ginutil.Unauthorized(c, "invalid_token")
			return
		}
		ginutil.SetCaller(c, caller, ginutil.SourceSession)
		c.Next()
	}
}

func bearer(h string) (string, bool) {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}
