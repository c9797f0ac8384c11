package entitlements

import "context"

// Registry owns token existence and ownership. The ledger consults it on every call and
// never caches its answers.
type Registry interface {
	Exists(ctx context.Context, id TokenID) (bool, error)
	// OwnerOf fails with ErrNotFound for unregistered ids.
	OwnerOf(ctx context.Context, id TokenID) (Principal, error)
	// Register fails with ErrAlreadyExists if id is already registered.
	Register(ctx context.Context, id TokenID, owner Principal) error
}

// Transferer moves a token between principals. Transfer is a compare-and-swap on the owner:
// it fails with ErrUnauthorized when from is no longer the owner, and clears any per-token
// approval.
type Transferer interface {
	Transfer(ctx context.Context, id TokenID, from, to Principal) error
}

// Approvals records delegates allowed to act on an owner's tokens.
type Approvals interface {
	// Approve sets the single approved delegate for id. An empty delegate clears it.
	Approve(ctx context.Context, id TokenID, delegate Principal) error
	GetApproved(ctx context.Context, id TokenID) (Principal, error)
	SetApprovalForAll(ctx context.Context, owner, operator Principal, approved bool) error
	IsApprovedForAll(ctx context.Context, owner, operator Principal) (bool, error)
}

// Enumerable lists tokens, mirroring an enumerable NFT registry.
type Enumerable interface {
	TotalSupply(ctx context.Context) (uint64, error)
	BalanceOf(ctx context.Context, owner Principal) (uint64, error)
	// TokensOf returns owner's tokens in ascending id order.
	TokensOf(ctx context.Context, owner Principal) ([]TokenID, error)
}

// FullRegistry is what the bundled storage backends implement.
type FullRegistry interface {
	Registry
	Transferer
	Approvals
	Enumerable
}

// ExpiryRecord pairs a token with its stored expiry.
type ExpiryRecord struct {
	ID        TokenID
	ExpiresAt Timestamp
}

// ExpiryStore is the ledger's own state: id -> expiresAt. Each method is a single atomic
// read or write.
type ExpiryStore interface {
	SetExpiry(ctx context.Context, id TokenID, expiresAt Timestamp) error
	// Expiry returns 0 when no record exists. Existence is decided by the Registry.
	Expiry(ctx context.Context, id TokenID) (Timestamp, error)
	// ExpiringBetween returns records with from < expiresAt <= to, ordered by expiresAt.
	ExpiringBetween(ctx context.Context, from, to Timestamp) ([]ExpiryRecord, error)
}

// GuardedExpiryStore writes an expiry only while id is still owned by owner, checked and
// written in one atomic step. It fails with ErrNotFound for unregistered ids and with
// ErrUnauthorized when the owner has changed. Ledgers sharing one store across processes
// depend on it; with a plain ExpiryStore the owner check is only serialized in-process.
type GuardedExpiryStore interface {
	SetExpiryIfOwner(ctx context.Context, id TokenID, owner Principal, expiresAt Timestamp) error
}

// Backend bundles a registry and expiry store living in the same database.
type Backend interface {
	FullRegistry
	ExpiryStore
	GuardedExpiryStore
	Close() error
}
