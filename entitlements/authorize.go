package entitlements

import "context"

// authorize resolves the current owner of id and checks that caller may act on it.
// Ownership is read from the registry on every call so a transfer takes effect immediately.
// tokenDelegate controls whether the per-token approved delegate counts; approving a new
// delegate is reserved for the owner and the owner's operators.
func (l *Ledger) authorize(ctx context.Context, caller Caller, id TokenID, tokenDelegate bool) (Principal, error) {
	owner, err := l.registry.OwnerOf(ctx, id)
	if err != nil {
		return "", err
	}
	if caller.HasRole(l.operatorRoles...) {
		return owner, nil
	}
	p := caller.Principal.Normalize()
	if p == "" {
		return owner, ErrUnauthorized
	}
	if p == owner {
		return owner, nil
	}

	ap, ok := l.registry.(Approvals)
	if !ok {
		return owner, ErrUnauthorized
	}
	if tokenDelegate {
		approved, err := ap.GetApproved(ctx, id)
		if err != nil {
			return owner, err
		}
		if approved != "" && approved == p {
			return owner, nil
		}
	}
	all, err := ap.IsApprovedForAll(ctx, owner, p)
	if err != nil {
		return owner, err
	}
	if all {
		return owner, nil
	}
	return owner, ErrUnauthorized
}
