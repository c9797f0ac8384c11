package entitlements

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventKind names a ledger notification.
type EventKind string

const (
	EventMinted      EventKind = "entitlement.minted"
	EventUpdated     EventKind = "subscription.updated"
	EventTransferred EventKind = "entitlement.transferred"
	EventLapsed      EventKind = "subscription.lapsed"
)

// Event is emitted after a state change has been committed.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Op        Op        `json:"op,omitempty"`
	TokenID   TokenID   `json:"token_id"`
	Actor     Principal `json:"actor,omitempty"`
	Owner     Principal `json:"owner,omitempty"`
	ExpiresAt Timestamp `json:"expires_at"`
	At        time.Time `json:"at"`
}

func newEvent(kind EventKind, op Op, id TokenID, at time.Time) Event {
	return Event{ID: uuid.NewString(), Kind: kind, Op: op, TokenID: id, At: at.UTC()}
}

// NewLapsedEvent builds the notification the sweeper emits for a window that has closed.
func NewLapsedEvent(rec ExpiryRecord, at time.Time) Event {
	ev := newEvent(EventLapsed, "", rec.ID, at)
	ev.ExpiresAt = rec.ExpiresAt
	return ev
}

// EventSink receives committed events. Implementations should be non-blocking and
// best-effort: a failed publish never rolls back ledger state.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event) error

func (f EventSinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// MultiSink fans out to every sink and joins their errors.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) error { return nil }
