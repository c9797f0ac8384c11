package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	core "github.com/PaulFidika/subledger/core"
)

func HandleEntitlementGET(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLDefault) {
			ginutil.TooMany(c)
			return
		}
		id, ok := tokenIDParam(c)
		if !ok {
			return
		}
		l := svc.Ledger()
		ent, err := l.Get(c.Request.Context(), id)
		if err != nil {
			ginutil.LedgerErr(c, svc.Log(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token_id":   ent.ID,
			"owner":      ent.Owner,
			"expires_at": ent.ExpiresAt,
			"active":     ent.ActiveAt(l.Clock().Now()),
			"renewable":  true,
		})
	}
}
