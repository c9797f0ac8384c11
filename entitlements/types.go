package entitlements

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// TokenID identifies an entitlement. It is assigned at mint time and never changes.
type TokenID uint64

func (id TokenID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseTokenID parses a decimal token id.
func ParseTokenID(s string) (TokenID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, ErrInvalidArgument
	}
	return TokenID(v), nil
}

// Principal is an account able to hold entitlements (a wallet address or a platform account id).
type Principal string

// Normalize trims whitespace. Wallet addresses are case-sensitive, so no case folding.
func (p Principal) Normalize() Principal { return Principal(strings.TrimSpace(string(p))) }

func (p Principal) IsZero() bool { return p.Normalize() == "" }

// Timestamp is seconds since the Unix epoch. Zero means "no active window".
type Timestamp = uint64

// MaxTimestamp is the largest expiry the ledger will record. It matches the range of
// time.Unix and of BIGINT columns used by the SQL stores.
const MaxTimestamp Timestamp = math.MaxInt64

// Entitlement is the combined view of a token: registry ownership plus the ledger's window.
type Entitlement struct {
	ID        TokenID   `json:"token_id"`
	Owner     Principal `json:"owner"`
	ExpiresAt Timestamp `json:"expires_at"`
}

// ActiveAt reports whether the window is still open at now.
func (e Entitlement) ActiveAt(now time.Time) bool {
	return IsActiveAt(e.ExpiresAt, now)
}

// IsActiveAt interprets a stored expiry against now. A zero expiry is never active.
func IsActiveAt(expiresAt Timestamp, now time.Time) bool {
	sec := now.Unix()
	if sec < 0 {
		return expiresAt > 0
	}
	return expiresAt > Timestamp(sec)
}

// Role names recognised by the authorization gate.
const (
	// RoleOperator may mint to other principals and renew or cancel any entitlement.
	// Typically held by the billing service that has already collected payment.
	RoleOperator = "entitlements:operator"
)

// Caller is the authenticated principal invoking a ledger operation.
type Caller struct {
	Principal Principal
	Roles     []string
}

// HasRole reports whether the caller carries any of the given roles.
func (c Caller) HasRole(roles ...string) bool {
	for _, have := range c.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}
