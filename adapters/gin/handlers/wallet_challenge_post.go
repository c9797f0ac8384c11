package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	core "github.com/PaulFidika/subledger/core"
)

func HandleWalletChallengePOST(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	type challengeReq struct {
		Address string `json:"address"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLWalletChallenge) {
			ginutil.TooMany(c)
			return
		}
		var req challengeReq
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Address) == "" {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		nonce, msg, err := svc.WalletChallenge(c.Request.Context(), req.Address)
		if err != nil {
			ginutil.BadRequest(c, "invalid_address")
			return
		}
		c.JSON(http.StatusOK, gin.H{"nonce": nonce, "message": msg})
	}
}
