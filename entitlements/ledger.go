// Package entitlements implements the entitlement lifecycle: minting token ids, renewing and
// cancelling their validity windows, and answering expiry queries under an ownership gate.
//
// A Ledger owns the id -> expiresAt mapping and delegates existence and ownership to a
// Registry. Every mutating call is serialized per token id, performs all checks before its
// single state write, and reads the injected Clock exactly once.
package entitlements

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	lockStripes = 256
	// ownerRaceAttempts bounds how often a guarded write re-authorizes after the owner
	// changed underneath it.
	ownerRaceAttempts = 3
)

// Ledger is the authoritative store of token expiries.
type Ledger struct {
	registry      Registry
	store         ExpiryStore
	clock         Clock
	sink          EventSink
	log           logrus.FieldLogger
	operatorRoles []string

	locks [lockStripes]sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock, typically with a fake in tests.
func WithClock(c Clock) Option {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithEventSink sets where committed events are published.
func WithEventSink(s EventSink) Option {
	return func(l *Ledger) {
		if s != nil {
			l.sink = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithOperatorRoles sets the roles that bypass ownership checks. Defaults to RoleOperator.
func WithOperatorRoles(roles ...string) Option {
	return func(l *Ledger) {
		l.operatorRoles = append([]string(nil), roles...)
	}
}

// New builds a ledger over a registry and an expiry store. When store also implements
// GuardedExpiryStore it must read ownership from the same data as reg; the bundled backends
// are passed as both.
func New(reg Registry, store ExpiryStore, opts ...Option) *Ledger {
	l := &Ledger{
		registry:      reg,
		store:         store,
		clock:         SystemClock{},
		sink:          nopSink{},
		log:           logrus.StandardLogger(),
		operatorRoles: []string{RoleOperator},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Registry exposes the registry the ledger consults.
func (l *Ledger) Registry() Registry { return l.registry }

// Clock exposes the ledger's time source so collaborators share one notion of now.
func (l *Ledger) Clock() Clock { return l.clock }

func (l *Ledger) lock(id TokenID) func() {
	m := &l.locks[uint64(id)%lockStripes]
	m.Lock()
	return m.Unlock
}

var errClockBeforeEpoch = errors.New("entitlements: clock reads before the unix epoch")

func (l *Ledger) nowUnix() (Timestamp, error) {
	sec := l.clock.Now().Unix()
	if sec < 0 {
		return 0, errClockBeforeEpoch
	}
	return Timestamp(sec), nil
}

// Mint registers id under recipient (the caller when recipient is empty) with expiresAt = 0.
// Minting to someone else requires an operator role. If the expiry cannot be initialised the
// token stays registered and the error is returned; CancelSubscription converges it to zero.
func (l *Ledger) Mint(ctx context.Context, caller Caller, id TokenID, recipient Principal) error {
	from := caller.Principal.Normalize()
	to := recipient.Normalize()
	if to == "" {
		to = from
	}
	if to == "" {
		return opErr(OpMint, id, ErrInvalidArgument)
	}
	if to != from && !caller.HasRole(l.operatorRoles...) {
		return opErr(OpMint, id, ErrUnauthorized)
	}

	unlock := l.lock(id)
	defer unlock()

	if err := l.registry.Register(ctx, id, to); err != nil {
		return opErr(OpMint, id, err)
	}
	if err := l.setExpiry(ctx, id, to, 0); err != nil {
		l.log.WithError(err).WithField("token_id", id).Error("mint: expiry initialisation failed")
		return opErr(OpMint, id, err)
	}

	l.log.WithFields(logrus.Fields{"op": OpMint, "token_id": id, "principal": to}).Info("entitlement minted")
	ev := newEvent(EventMinted, OpMint, id, l.clock.Now())
	ev.Actor, ev.Owner = from, to
	l.publish(ctx, ev)
	return nil
}

// RenewSubscription sets expiresAt = now + duration seconds, overwriting any previous value.
// It returns the new expiry.
func (l *Ledger) RenewSubscription(ctx context.Context, caller Caller, id TokenID, duration int64) (Timestamp, error) {
	if duration < 0 {
		return 0, opErr(OpRenew, id, ErrInvalidArgument)
	}

	unlock := l.lock(id)
	defer unlock()

	owner, err := l.authorize(ctx, caller, id, true)
	if err != nil {
		return 0, opErr(OpRenew, id, err)
	}
	now, err := l.nowUnix()
	if err != nil {
		return 0, opErr(OpRenew, id, err)
	}
	d := Timestamp(duration)
	if now > MaxTimestamp || d > MaxTimestamp-now {
		return 0, opErr(OpRenew, id, ErrOverflow)
	}
	expiresAt := now + d
	if owner, err = l.commitExpiry(ctx, caller, id, owner, expiresAt); err != nil {
		return 0, opErr(OpRenew, id, err)
	}

	l.log.WithFields(logrus.Fields{
		"op": OpRenew, "token_id": id, "principal": caller.Principal, "expires_at": expiresAt,
	}).Info("subscription renewed")
	l.publishUpdate(ctx, OpRenew, caller, owner, id, expiresAt)
	return expiresAt, nil
}

// CancelSubscription sets expiresAt = 0 regardless of its previous value.
func (l *Ledger) CancelSubscription(ctx context.Context, caller Caller, id TokenID) error {
	unlock := l.lock(id)
	defer unlock()

	owner, err := l.authorize(ctx, caller, id, true)
	if err != nil {
		return opErr(OpCancel, id, err)
	}
	if owner, err = l.commitExpiry(ctx, caller, id, owner, 0); err != nil {
		return opErr(OpCancel, id, err)
	}

	l.log.WithFields(logrus.Fields{"op": OpCancel, "token_id": id, "principal": caller.Principal}).Info("subscription cancelled")
	l.publishUpdate(ctx, OpCancel, caller, owner, id, 0)
	return nil
}

// ExpiresAt returns the stored expiry; 0 for a minted but inactive token.
// It does not compare against now; see IsActive.
func (l *Ledger) ExpiresAt(ctx context.Context, id TokenID) (Timestamp, error) {
	ok, err := l.registry.Exists(ctx, id)
	if err != nil {
		return 0, opErr(OpExpiresAt, id, err)
	}
	if !ok {
		return 0, opErr(OpExpiresAt, id, ErrNotFound)
	}
	ts, err := l.store.Expiry(ctx, id)
	if err != nil {
		return 0, opErr(OpExpiresAt, id, err)
	}
	return ts, nil
}

// IsActive reports expiresAt(id) > now.
func (l *Ledger) IsActive(ctx context.Context, id TokenID) (bool, error) {
	ts, err := l.ExpiresAt(ctx, id)
	if err != nil {
		return false, err
	}
	return IsActiveAt(ts, l.clock.Now()), nil
}

// IsRenewable reports whether id may be renewed. Every existing token is renewable.
func (l *Ledger) IsRenewable(ctx context.Context, id TokenID) (bool, error) {
	ok, err := l.registry.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, opErr(OpExpiresAt, id, ErrNotFound)
	}
	return true, nil
}

// Get returns the owner and expiry of id.
func (l *Ledger) Get(ctx context.Context, id TokenID) (Entitlement, error) {
	owner, err := l.registry.OwnerOf(ctx, id)
	if err != nil {
		return Entitlement{}, opErr(OpExpiresAt, id, err)
	}
	ts, err := l.store.Expiry(ctx, id)
	if err != nil {
		return Entitlement{}, opErr(OpExpiresAt, id, err)
	}
	return Entitlement{ID: id, Owner: owner, ExpiresAt: ts}, nil
}

// ListByOwner returns owner's entitlements in ascending id order.
func (l *Ledger) ListByOwner(ctx context.Context, owner Principal) ([]Entitlement, error) {
	enum, ok := l.registry.(Enumerable)
	if !ok {
		return nil, ErrUnsupported
	}
	owner = owner.Normalize()
	if owner == "" {
		return nil, ErrInvalidArgument
	}
	ids, err := enum.TokensOf(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]Entitlement, 0, len(ids))
	for _, id := range ids {
		ts, err := l.store.Expiry(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, Entitlement{ID: id, Owner: owner, ExpiresAt: ts})
	}
	return out, nil
}

// TotalSupply returns the number of minted tokens.
func (l *Ledger) TotalSupply(ctx context.Context) (uint64, error) {
	enum, ok := l.registry.(Enumerable)
	if !ok {
		return 0, ErrUnsupported
	}
	return enum.TotalSupply(ctx)
}

// Transfer moves id to a new owner. The expiry belongs to the token and is unchanged.
func (l *Ledger) Transfer(ctx context.Context, caller Caller, id TokenID, to Principal) error {
	tr, ok := l.registry.(Transferer)
	if !ok {
		return opErr(OpTransfer, id, ErrUnsupported)
	}
	to = to.Normalize()
	if to == "" {
		return opErr(OpTransfer, id, ErrInvalidArgument)
	}

	unlock := l.lock(id)
	defer unlock()

	owner, err := l.authorize(ctx, caller, id, true)
	if err != nil {
		return opErr(OpTransfer, id, err)
	}
	if err := tr.Transfer(ctx, id, owner, to); err != nil {
		return opErr(OpTransfer, id, err)
	}
	ts, err := l.store.Expiry(ctx, id)
	if err != nil {
		l.log.WithError(err).WithField("token_id", id).Warn("transfer: expiry lookup for event failed")
	}

	l.log.WithFields(logrus.Fields{"op": OpTransfer, "token_id": id, "principal": caller.Principal, "to": to}).Info("entitlement transferred")
	ev := newEvent(EventTransferred, OpTransfer, id, l.clock.Now())
	ev.Actor, ev.Owner, ev.ExpiresAt = caller.Principal.Normalize(), to, ts
	l.publish(ctx, ev)
	return nil
}

// Approve names a single delegate allowed to renew, cancel or transfer id. Only the owner,
// one of the owner's operators, or an operator-role caller may approve.
func (l *Ledger) Approve(ctx context.Context, caller Caller, id TokenID, delegate Principal) error {
	ap, ok := l.registry.(Approvals)
	if !ok {
		return opErr(OpApprove, id, ErrUnsupported)
	}

	unlock := l.lock(id)
	defer unlock()

	if _, err := l.authorize(ctx, caller, id, false); err != nil {
		return opErr(OpApprove, id, err)
	}
	if err := ap.Approve(ctx, id, delegate.Normalize()); err != nil {
		return opErr(OpApprove, id, err)
	}
	l.log.WithFields(logrus.Fields{"op": OpApprove, "token_id": id, "delegate": delegate}).Info("delegate approved")
	return nil
}

// SetApprovalForAll lets operator act on every token the caller owns, now and in future.
func (l *Ledger) SetApprovalForAll(ctx context.Context, caller Caller, operator Principal, approved bool) error {
	ap, ok := l.registry.(Approvals)
	if !ok {
		return ErrUnsupported
	}
	owner := caller.Principal.Normalize()
	operator = operator.Normalize()
	if owner == "" || operator == "" || owner == operator {
		return ErrInvalidArgument
	}
	if err := ap.SetApprovalForAll(ctx, owner, operator, approved); err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{
		"op": OpSetApprovalForAll, "principal": owner, "operator": operator, "approved": approved,
	}).Info("operator approval updated")
	return nil
}

// setExpiry writes through the store's owner guard when it has one.
func (l *Ledger) setExpiry(ctx context.Context, id TokenID, owner Principal, expiresAt Timestamp) error {
	if g, ok := l.store.(GuardedExpiryStore); ok {
		return g.SetExpiryIfOwner(ctx, id, owner, expiresAt)
	}
	return l.store.SetExpiry(ctx, id, expiresAt)
}

// commitExpiry writes expiresAt only while owner still holds id. When another process
// sharing the store transferred id after authorize read the owner, the caller is checked
// again against the new owner before retrying. It returns the owner the write was made under.
func (l *Ledger) commitExpiry(ctx context.Context, caller Caller, id TokenID, owner Principal, expiresAt Timestamp) (Principal, error) {
	for attempt := 1; ; attempt++ {
		err := l.setExpiry(ctx, id, owner, expiresAt)
		if !errors.Is(err, ErrUnauthorized) || attempt == ownerRaceAttempts {
			return owner, err
		}
		l.log.WithField("token_id", id).Debug("owner changed during write; re-authorizing")
		if owner, err = l.authorize(ctx, caller, id, true); err != nil {
			return owner, err
		}
	}
}

func (l *Ledger) publishUpdate(ctx context.Context, op Op, caller Caller, owner Principal, id TokenID, expiresAt Timestamp) {
	ev := newEvent(EventUpdated, op, id, l.clock.Now())
	ev.Actor, ev.Owner, ev.ExpiresAt = caller.Principal.Normalize(), owner, expiresAt
	l.publish(ctx, ev)
}

func (l *Ledger) publish(ctx context.Context, ev Event) {
	if err := l.sink.Publish(ctx, ev); err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{"token_id": ev.TokenID, "kind": ev.Kind}).Warn("event publish failed")
	}
}
