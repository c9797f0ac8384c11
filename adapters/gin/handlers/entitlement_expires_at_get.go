package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	core "github.com/PaulFidika/subledger/core"
)

func HandleEntitlementExpiresAtGET(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLDefault) {
			ginutil.TooMany(c)
			return
		}
		id, ok := tokenIDParam(c)
		if !ok {
			return
		}
		ts, err := svc.Ledger().ExpiresAt(c.Request.Context(), id)
		if err != nil {
			ginutil.LedgerErr(c, svc.Log(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token_id": id, "expires_at": ts})
	}
}
