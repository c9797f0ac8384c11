package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	core "github.com/PaulFidika/subledger/core"
	"github.com/PaulFidika/subledger/entitlements"
)

func HandlePrincipalOperatorPUT(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	type operatorReq struct {
		Approved *bool `json:"approved"`
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
		var req operatorReq
		if err := c.ShouldBindJSON(&req); err != nil || req.Approved == nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		operator := entitlements.Principal(c.Param("operator")).Normalize()
		if err := svc.Ledger().SetApprovalForAll(c.Request.Context(), caller, operator, *req.Approved); err != nil {
			ginutil.LedgerErr(c, svc.Log(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"owner": caller.Principal, "operator": operator, "approved": *req.Approved})
	}
}
