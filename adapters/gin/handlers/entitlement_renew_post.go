package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	core "github.com/PaulFidika/subledger/core"
)

func HandleEntitlementRenewPOST(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	type renewReq struct {
		// Duration is in seconds. A pointer so a missing field is distinguishable from 0.
		Duration *int64 `json:"duration"`
	}
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
		var req renewReq
		if err := c.ShouldBindJSON(&req); err != nil || req.Duration == nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		ts, err := svc.Ledger().RenewSubscription(c.Request.Context(), caller, id, *req.Duration)
		if err != nil {
			ginutil.LedgerErr(c, svc.Log(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token_id": id, "expires_at": ts})
	}
}
