// Package authgin mounts the ledger's HTTP surface on a gin router: wallet sign-in, JWKS and
// the entitlement routes behind AuthRequired.
package authgin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/gin/handlers"
	"github.com/PaulFidika/subledger/adapters/ginutil"
	authhttp "github.com/PaulFidika/subledger/adapters/http"
	core "github.com/PaulFidika/subledger/core"
)

// GinRegisterAPI registers every route on r. rl may be nil to disable rate limiting.
func GinRegisterAPI(r gin.IRouter, svc *core.Service, rl ginutil.RateLimiter) {
	r.GET("/healthz", handlers.HandleHealthzGET(svc))
	r.GET("/.well-known/jwks.json", gin.WrapH(authhttp.JWKSHandler(svc.Keys())))

	wallet := r.Group("/auth/wallet")
	wallet.POST("/challenge", handlers.HandleWalletChallengePOST(svc, rl))
	wallet.POST("/verify", handlers.HandleWalletVerifyPOST(svc, rl))

	authed := r.Group("", AuthRequired(svc))
	authed.GET("/me", func(c *gin.Context) {
		view, _ := CurrentCaller(c)
		c.JSON(http.StatusOK, view)
	})

	ents := authed.Group("/entitlements")
	ents.POST("", handlers.HandleEntitlementPOST(svc, rl))
	ents.GET("/:id", handlers.HandleEntitlementGET(svc, rl))
	ents.GET("/:id/expires-at", handlers.HandleEntitlementExpiresAtGET(svc, rl))
	ents.POST("/:id/renew", handlers.HandleEntitlementRenewPOST(svc, rl))
	ents.POST("/:id/cancel", handlers.HandleEntitlementCancelPOST(svc, rl))
	ents.POST("/:id/transfer", handlers.HandleEntitlementTransferPOST(svc, rl))
	ents.POST("/:id/approve", handlers.HandleEntitlementApprovePOST(svc, rl))

	principals := authed.Group("/principals")
	principals.PUT("/me/operators/:operator", handlers.HandlePrincipalOperatorPUT(svc, rl))
	principals.GET("/:principal/entitlements", handlers.HandlePrincipalEntitlementsGET(svc, rl))
}
