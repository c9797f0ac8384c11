package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	"github.com/PaulFidika/subledger/entitlements"
)

// tokenIDParam parses :id and answers 400 when it is not a decimal uint64.
func tokenIDParam(c *gin.Context) (entitlements.TokenID, bool) {
	id, err := entitlements.ParseTokenID(c.Param("id"))
	if err != nil {
		ginutil.BadRequest(c, "invalid_token_id")
		return 0, false
	}
	return id, true
}

// callerOr401 returns the authenticated caller or answers 401.
func callerOr401(c *gin.Context) (entitlements.Caller, bool) {
	caller, ok := ginutil.CallerFrom(c)
	if !ok {
		ginutil.Unauthorized(c, "unauthenticated")
	}
	return caller, ok
}
