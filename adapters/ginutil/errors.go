// Package ginutil holds the small helpers every gin handler shares: JSON error bodies,
// rate limiting and the mapping from ledger errors to HTTP statuses.
package ginutil

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/subledger/entitlements"
)

func abort(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func BadRequest(c *gin.Context, code string)   { abort(c, http.StatusBadRequest, code) }
func Unauthorized(c *gin.Context, code string) { abort(c, http.StatusUnauthorized, code) }
func Forbidden(c *gin.Context, code string)    { abort(c, http.StatusForbidden, code) }
func NotFound(c *gin.Context, code string)     { abort(c, http.StatusNotFound, code) }
func Conflict(c *gin.Context, code string)     { abort(c, http.StatusConflict, code) }
func ServerErr(c *gin.Context, code string)    { abort(c, http.StatusInternalServerError, code) }

func TooMany(c *gin.Context) { abort(c, http.StatusTooManyRequests, "rate_limited") }

// ServerErrWithLog logs err with the request path before answering 500.
func ServerErrWithLog(c *gin.Context, log logrus.FieldLogger, err error, code string) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithError(err).WithFields(logrus.Fields{"path": c.FullPath(), "method": c.Request.Method}).Error(code)
	ServerErr(c, code)
}

// LedgerStatus maps a ledger error to its HTTP status and error code.
func LedgerStatus(err error) (int, string) {
	switch {
	case errors.Is(err, entitlements.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, entitlements.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, entitlements.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, entitlements.ErrOverflow):
		return http.StatusUnprocessableEntity, "overflow"
	case errors.Is(err, entitlements.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, entitlements.ErrUnsupported):
		return http.StatusNotImplemented, "unsupported"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// LedgerErr answers with the status LedgerStatus picks. Unexpected errors are logged.
func LedgerErr(c *gin.Context, log logrus.FieldLogger, err error) {
	status, code := LedgerStatus(err)
	if status == http.StatusInternalServerError {
		ServerErrWithLog(c, log, err, code)
		return
	}
	abort(c, status, code)
}
