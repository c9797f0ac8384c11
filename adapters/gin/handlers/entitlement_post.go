package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	core "github.com/PaulFidika/subledger/core"
	"github.com/PaulFidika/subledger/entitlements"
)

func HandleEntitlementPOST(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	type mintReq struct {
		TokenID   json.Number `json:"token_id"`
		Recipient string      `json:"recipient"`
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
		var req mintReq
		if err := c.ShouldBindJSON(&req); err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		id, err := entitlements.ParseTokenID(req.TokenID.String())
		if err != nil {
			ginutil.BadRequest(c, "invalid_token_id")
			return
		}
		if err := svc.Ledger().Mint(c.Request.Context(), caller, id, entitlements.Principal(req.Recipient)); err != nil {
			ginutil.LedgerErr(c, svc.Log(), err)
			return
		}
		owner := entitlements.Principal(req.Recipient).Normalize()
		if owner == "" {
			owner = caller.Principal.Normalize()
		}
		c.JSON(http.StatusCreated, entitlements.Entitlement{ID: id, Owner: owner, ExpiresAt: 0})
	}
}
