package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	core "github.com/PaulFidika/subledger/core"
)

func HandleEntitlementCancelPOST(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerOr401(c)
		if !ok {
			return
		}
		if !ginutil.AllowNamed(c, rl, ginutil.RLMutate) {
			ginutil.TooMany(c)
			return
		}
		id, ok := tokenIDParam(c)
		if !ok {
			return
		}
		if err := svc.Ledger().CancelSubscription(c.Request.Context(), caller, id); err != nil {
			ginutil.LedgerErr(c, svc.Log(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token_id": id, "expires_at": 0})
	}
}
