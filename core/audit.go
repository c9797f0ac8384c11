package core

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/subledger/entitlements"
)

// AuditSink writes every ledger event to the audit log. It never fails.
type AuditSink struct {
	Log logrus.FieldLogger
}

func (a AuditSink) Publish(_ context.Context, ev entitlements.Event) error {
	log := a.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"audit":      true,
		"event_id":   ev.ID,
		"kind":       ev.Kind,
		"op":         ev.Op,
		"token_id":   ev.TokenID,
		"actor":      ev.Actor,
		"owner":      ev.Owner,
		"expires_at": ev.ExpiresAt,
	}).Info("ledger event")
	return nil
}

// SignInLogger records wallet sign-ins. Implementations should be non-blocking and best-effort.
type SignInLogger interface {
	LogSignIn(ctx context.Context, principal entitlements.Principal, method string, ip, userAgent string)
}

// LogSignIns is a SignInLogger backed by logrus.
type LogSignIns struct {
	Log logrus.FieldLogger
}

func (l LogSignIns) LogSignIn(_ context.Context, principal entitlements.Principal, method, ip, userAgent string) {
	log := l.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"audit":      true,
		"principal":  principal,
		"method":     method,
		"ip":         ip,
		"user_agent": userAgent,
	}).Info("sign-in")
}
