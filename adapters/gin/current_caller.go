package authgin

import (
	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/subledger/adapters/ginutil"
)

// CallerView is the caller as handlers and clients see it.
type CallerView struct {
	Principal string   `json:"principal"`
	Roles     []string `json:"roles,omitempty"`
	// Source is "session", "api_key" or "none".
	Source string `json:"source"`
}

// CurrentCaller returns the caller resolved by AuthRequired, or Source "none".
func CurrentCaller(c *gin.Context) (CallerView, bool) {
	caller, ok := ginutil.CallerFrom(c)
	if !ok {
		return CallerView{Source: "none"}, false
	}
	return CallerView{
		Principal: string(caller.Principal),
		Roles:     caller.Roles,
		Source:    c.GetString(ginutil.KeySource),
	}, true
}
