package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	core "github.com/PaulFidika/subledger/core"
	"github.com/PaulFidika/subledger/entitlements"
)

func HandleEntitlementTransferPOST(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	type transferReq struct {
		To string `json:"to"`
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
		var req transferReq
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.To) == "" {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		to := entitlements.Principal(req.To).Normalize()
		if err := svc.Ledger().Transfer(c.Request.Context(), caller, id, to); err != nil {
			ginutil.LedgerErr(c, svc.Log(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token_id": id, "owner": to})
	}
}
