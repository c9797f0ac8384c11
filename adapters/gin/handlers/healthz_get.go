package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	core "github.com/PaulFidika/subledger/core"
	"github.com/PaulFidika/subledger/entitlements"
)

// HandleHealthzGET probes the backend with a read of token 0.
func HandleHealthzGET(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if _, err := svc.Backend().Exists(ctx, entitlements.TokenID(0)); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "storage_unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
