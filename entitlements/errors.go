package entitlements

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the token id was never minted.
	ErrNotFound = errors.New("entitlements: not found")
	// ErrAlreadyExists is returned when minting an id that is already registered.
	ErrAlreadyExists = errors.New("entitlements: already exists")
	// ErrUnauthorized is returned when the caller is not the owner, an approved delegate or an operator.
	ErrUnauthorized = errors.New("entitlements: unauthorized")
	// ErrOverflow is returned when now + duration exceeds MaxTimestamp.
	ErrOverflow = errors.New("entitlements: timestamp overflow")
	// ErrInvalidArgument is returned for negative durations, empty principals and malformed ids.
	ErrInvalidArgument = errors.New("entitlements: invalid argument")
	// ErrUnsupported is returned when the configured registry lacks an optional capability.
	ErrUnsupported = errors.New("entitlements: operation not supported by registry")
)

// Op names a ledger operation, used in logs, events and error context.
type Op string

const (
	OpMint              Op = "mint"
	OpRenew             Op = "renew_subscription"
	OpCancel            Op = "cancel_subscription"
	OpExpiresAt         Op = "expires_at"
	OpTransfer          Op = "transfer"
	OpApprove           Op = "approve"
	OpSetApprovalForAll Op = "set_approval_for_all"
)

// IsRetrySafe reports whether blindly retrying op after an ambiguous failure is harmless.
// Cancel converges on zero; renew would restart the window from a later now.
func IsRetrySafe(op Op) bool {
	switch op {
	case OpCancel, OpExpiresAt, OpApprove, OpSetApprovalForAll:
		return true
	default:
		return false
	}
}

func opErr(op Op, id TokenID, err error) error {
	return fmt.Errorf("%s token %s: %w", op, id, err)
}

// IsNotFound, IsUnauthorized and friends are shorthands for errors.Is on the sentinels.
func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
func IsUnauthorized(err error) bool  { return errors.Is(err, ErrUnauthorized) }
func IsOverflow(err error) bool      { return errors.Is(err, ErrOverflow) }
func IsInvalid(err error) bool       { return errors.Is(err, ErrInvalidArgument) }
