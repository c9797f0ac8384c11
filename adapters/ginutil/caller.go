package ginutil

import (
	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/entitlements"
)

// Context keys set by the authentication middleware.
const (
	KeyPrincipal = "auth.principal"
	KeyRoles     = "auth.roles"
	KeySource    = "auth.source"
)

// Credential sources.
const (
	SourceSession = "session"
	SourceAPIKey  = "api_key"
)

// SetCaller stores the authenticated caller on the gin context.
func SetCaller(c *gin.Context, caller entitlements.Caller, source string) {
	c.Set(KeyPrincipal, string(caller.Principal))
	c.Set(KeyRoles, caller.Roles)
	c.Set(KeySource, source)
}

// CallerFrom returns the caller SetCaller stored, if any.
func CallerFrom(c *gin.Context) (entitlements.Caller, bool) {
	p := c.GetString(KeyPrincipal)
	if p == "" {
		return entitlements.Caller{}, false
	}
	return entitlements.Caller{Principal: entitlements.Principal(p), Roles: c.GetStringSlice(KeyRoles)}, true
}
