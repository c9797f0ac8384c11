package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	core "github.com/PaulFidika/subledger/core"
	"github.com/PaulFidika/subledger/entitlements"
)

func HandlePrincipalEntitlementsGET(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	type item struct {
		entitlements.Entitlement
		Active bool `json:"active"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLDefault) {
			ginutil.TooMany(c)
			return
		}
		owner := entitlements.Principal(c.Param("principal"))
		if owner == "me" {
			caller, ok := callerOr401(c)
			if !ok {
				return
			}
			owner = caller.Principal
		}
		l := svc.Ledger()
		ents, err := l.ListByOwner(c.Request.Context(), owner)
		if err != nil {
			ginutil.LedgerErr(c, svc.Log(), err)
			return
		}
		now := l.Clock().Now()
		out := make([]item, 0, len(ents))
		for _, e := range ents {
			out = append(out, item{Entitlement: e, Active: e.ActiveAt(now)})
		}
		c.JSON(http.StatusOK, gin.H{"data": out, "owner": owner.Normalize()})
	}
}
