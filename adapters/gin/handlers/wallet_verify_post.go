package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	core "github.com/PaulFidika/subledger/core"
	"github.com/PaulFidika/subledger/siws"
)

func HandleWalletVerifyPOST(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	type verifyReq struct {
		Message   string `json:"message"`
		Signature string `json:"signature"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLWalletVerify) {
			ginutil.TooMany(c)
			return
		}
		var req verifyReq
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.Signature) == "" {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		sess, err := svc.WalletVerify(c.Request.Context(), req.Message, req.Signature, c.ClientIP(), c.Request.UserAgent())
		switch {
		case err == nil:
		case errors.Is(err, core.ErrBadSignature), errors.Is(err, siws.ErrMalformed):
			ginutil.BadRequest(c, "invalid_request")
			return
		case errors.Is(err, siws.ErrBadSignature), errors.Is(err, siws.ErrUnknownNonce),
			errors.Is(err, siws.ErrExpired), errors.Is(err, siws.ErrNotYet), errors.Is(err, siws.ErrAddressMismatch), errors.Is(err, siws.ErrDomain):
			ginutil.Unauthorized(c, "invalid_signature")
			return
		default:
			ginutil.ServerErrWithLog(c, svc.Log(), err, "wallet_verify_failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token": sess.AccessToken,
			"token_type":   "Bearer",
			"expires_in":   int64(svc.SessionTTL().Seconds()),
		})
	}
}
