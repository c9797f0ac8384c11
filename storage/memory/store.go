// Package memorystore keeps ledger state in process memory. It backs tests and single-node
// development deployments.
package memorystore

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/PaulFidika/subledger/entitlements"
)

var _ entitlements.Backend = (*Store)(nil)

type token struct {
	owner    entitlements.Principal
	approved entitlements.Principal
}

type operatorKey struct {
	owner, operator entitlements.Principal
}

// Store is an in-memory registry and expiry store.
type Store struct {
	mu        sync.RWMutex
	tokens    map[entitlements.TokenID]*token
	owned     map[entitlements.Principal]map[entitlements.TokenID]struct{}
	operators map[operatorKey]struct{}
	expiries  map[entitlements.TokenID]entitlements.Timestamp
}

func New() *Store {
	return &Store{
		tokens:    make(map[entitlements.TokenID]*token),
		owned:     make(map[entitlements.Principal]map[entitlements.TokenID]struct{}),
		operators: make(map[operatorKey]struct{}),
		expiries:  make(map[entitlements.TokenID]entitlements.Timestamp),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) Exists(_ context.Context, id entitlements.TokenID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[id]
	return ok, nil
}

func (s *Store) OwnerOf(_ context.Context, id entitlements.TokenID) (entitlements.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return "", entitlements.ErrNotFound
	}
	return t.owner, nil
}

func (s *Store) Register(_ context.Context, id entitlements.TokenID, owner entitlements.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[id]; ok {
		return entitlements.ErrAlreadyExists
	}
	s.tokens[id] = &token{owner: owner}
	s.own(owner, id)
	return nil
}

func (s *Store) own(owner entitlements.Principal, id entitlements.TokenID) {
	set, ok := s.owned[owner]
	if !ok {
		set = make(map[entitlements.TokenID]struct{})
		s.owned[owner] = set
	}
	set[id] = struct{}{}
}

func (s *Store) Transfer(_ context.Context, id entitlements.TokenID, from, to entitlements.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return entitlements.ErrNotFound
	}
	if t.owner != from {
		return entitlements.ErrUnauthorized
	}
	delete(s.owned[from], id)
	if len(s.owned[from]) == 0 {
		delete(s.owned, from)
	}
	t.owner = to
	t.approved = ""
	s.own(to, id)
	return nil
}

func (s *Store) Approve(_ context.Context, id entitlements.TokenID, delegate entitlements.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return entitlements.ErrNotFound
	}
	t.approved = delegate
	return nil
}

func (s *Store) GetApproved(_ context.Context, id entitlements.TokenID) (entitlements.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return "", entitlements.ErrNotFound
	}
	return t.approved, nil
}

func (s *Store) SetApprovalForAll(_ context.Context, owner, operator entitlements.Principal, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := operatorKey{owner, operator}
	if approved {
		s.operators[k] = struct{}{}
	} else {
		delete(s.operators, k)
	}
	return nil
}

func (s *Store) IsApprovedForAll(_ context.Context, owner, operator entitlements.Principal) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.operators[operatorKey{owner, operator}]
	return ok, nil
}

func (s *Store) TotalSupply(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.tokens)), nil
}

func (s *Store) BalanceOf(_ context.Context, owner entitlements.Principal) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.owned[owner])), nil
}

func (s *Store) TokensOf(_ context.Context, owner entitlements.Principal) ([]entitlements.TokenID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entitlements.TokenID, 0, len(s.owned[owner]))
	for id := range s.owned[owner] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) SetExpiry(_ context.Context, id entitlements.TokenID, expiresAt entitlements.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiries[id] = expiresAt
	return nil
}

func (s *Store) SetExpiryIfOwner(_ context.Context, id entitlements.TokenID, owner entitlements.Principal, expiresAt entitlements.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return entitlements.ErrNotFound
	}
	if t.owner != owner {
		return entitlements.ErrUnauthorized
	}
	s.expiries[id] = expiresAt
	return nil
}

func (s *Store) Expiry(_ context.Context, id entitlements.TokenID) (entitlements.Timestamp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiries[id], nil
}

func (s *Store) ExpiringBetween(_ context.Context, from, to entitlements.Timestamp) ([]entitlements.ExpiryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entitlements.ExpiryRecord
	for id, ts := range s.expiries {
		if ts > from && ts <= to {
			out = append(out, entitlements.ExpiryRecord{ID: id, ExpiresAt: ts})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt != out[j].ExpiresAt {
			return out[i].ExpiresAt < out[j].ExpiresAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
