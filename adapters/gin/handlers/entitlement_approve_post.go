package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	core "github.com/PaulFidika/subledger/core"
	"github.com/PaulFidika/subledger/entitlements"
)

func HandleEntitlementApprovePOST(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	type approveReq struct {
		// Delegate may be empty to clear the approval.
		Delegate string `json:"delegate"`
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
		var req approveReq
		if err := c.ShouldBindJSON(&req); err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		delegate := entitlements.Principal(req.Delegate).Normalize()
		if err := svc.Ledger().Approve(c.Request.Context(), caller, id, delegate); err != nil {
			ginutil.LedgerErr(c, svc.Log(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token_id": id, "delegate": delegate})
	}
}
