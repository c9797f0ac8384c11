// Package storagetest holds the conformance checks every entitlements.Backend must pass.
package storagetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulFidika/subledger/entitlements"
)

const (
	alice entitlements.Principal = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	bob   entitlements.Principal = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	carol entitlements.Principal = "HN7cABqLq46Es1jh92dQQisAq662SmxELLLsHHe4YWrH"
)

// Run exercises backend against the registry and expiry contracts. newBackend must return a
// fresh, empty backend for each call.
func Run(t *testing.T, newBackend func(t *testing.T) entitlements.Backend) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, b entitlements.Backend)
	}{
		{"RegisterAndOwnerOf", testRegisterAndOwnerOf},
		{"RegisterTwice", testRegisterTwice},
		{"ExpiryDefaultsToZero", testExpiryDefaultsToZero},
		{"SetExpiryOverwrites", testSetExpiryOverwrites},
		{"SetExpiryIfOwner", testSetExpiryIfOwner},
		{"LargeValues", testLargeValues},
		{"ExpiringBetween", testExpiringBetween},
		{"TransferCompareAndSwap", testTransferCompareAndSwap},
		{"Approvals", testApprovals},
		{"Enumeration", testEnumeration},
		{"ConcurrentRegister", testConcurrentRegister},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := newBackend(t)
			t.Cleanup(func() { _ = b.Close() })
			tc.fn(t, b)
		})
	}
}

func testRegisterAndOwnerOf(t *testing.T, b entitlements.Backend) {
	ctx := context.Background()

	ok, err := b.Exists(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = b.OwnerOf(ctx, 1)
	assert.ErrorIs(t, err, entitlements.ErrNotFound)

	require.NoError(t, b.Register(ctx, 1, alice))
	ok, err = b.Exists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	owner, err := b.OwnerOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)
}

func testRegisterTwice(t *testing.T, b entitlements.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Register(ctx, 7, alice))
	assert.ErrorIs(t, b.Register(ctx, 7, bob), entitlements.ErrAlreadyExists)

	owner, err := b.OwnerOf(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, alice, owner, "failed register must not change the owner")
}

func testExpiryDefaultsToZero(t *testing.T, b entitlements.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Register(ctx, 2, alice))
	ts, err := b.Expiry(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, ts)
}

func testSetExpiryOverwrites(t *testing.T, b entitlements.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Register(ctx, 3, alice))
	require.NoError(t, b.SetExpiry(ctx, 3, 0))
	require.NoError(t, b.SetExpiry(ctx, 3, 1_700_000_100))
	require.NoError(t, b.SetExpiry(ctx, 3, 1_700_000_050))

	ts, err := b.Expiry(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, entitlements.Timestamp(1_700_000_050), ts)

	require.NoError(t, b.SetExpiry(ctx, 3, 0))
	ts, err = b.Expiry(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, ts)
}

func testSetExpiryIfOwner(t *testing.T, b entitlements.Backend) {
	ctx := context.Background()
	assert.ErrorIs(t, b.SetExpiryIfOwner(ctx, 30, alice, 100), entitlements.ErrNotFound)

	require.NoError(t, b.Register(ctx, 30, alice))
	require.NoError(t, b.SetExpiryIfOwner(ctx, 30, alice, 1_700_000_100))
	ts, err := b.Expiry(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, entitlements.Timestamp(1_700_000_100), ts)

	require.NoError(t, b.Transfer(ctx, 30, alice, bob))
	assert.ErrorIs(t, b.SetExpiryIfOwner(ctx, 30, alice, 0), entitlements.ErrUnauthorized)
	ts, err = b.Expiry(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, entitlements.Timestamp(1_700_000_100), ts, "a stale owner cannot write")

	require.NoError(t, b.SetExpiryIfOwner(ctx, 30, bob, 0))
	ts, err = b.Expiry(ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, ts)

	recs, err := b.ExpiringBetween(ctx, 1_700_000_000, 1_700_000_200)
	require.NoError(t, err)
	assert.Empty(t, recs, "a guarded cancel also leaves the expiry index")
}

func testLargeValues(t *testing.T, b entitlements.Backend) {
	ctx := context.Background()
	const bigID = entitlements.TokenID(1<<63 + 5)
	require.NoError(t, b.Register(ctx, bigID, alice))
	require.NoError(t, b.SetExpiry(ctx, bigID, entitlements.MaxTimestamp))

	owner, err := b.OwnerOf(ctx, bigID)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	ts, err := b.Expiry(ctx, bigID)
	require.NoError(t, err)
	assert.Equal(t, entitlements.MaxTimestamp, ts)
}

func testExpiringBetween(t *testing.T, b entitlements.Backend) {
	ctx := context.Background()
	for id, ts := range map[entitlements.TokenID]entitlements.Timestamp{
		10: 0, 11: 100, 12: 150, 13: 200, 14: 250,
	} {
		require.NoError(t, b.Register(ctx, id, alice))
		require.NoError(t, b.SetExpiry(ctx, id, ts))
	}

	recs, err := b.ExpiringBetween(ctx, 100, 200)
	require.NoError(t, err)
	assert.Equal(t, []entitlements.ExpiryRecord{{ID: 12, ExpiresAt: 150}, {ID: 13, ExpiresAt: 200}}, recs)

	recs, err = b.ExpiringBetween(ctx, 0, 99)
	require.NoError(t, err)
	assert.Empty(t, recs, "zero expiries are never reported")
}

func testTransferCompareAndSwap(t *testing.T, b entitlements.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Register(ctx, 20, alice))
	require.NoError(t, b.Approve(ctx, 20, carol))

	assert.ErrorIs(t, b.Transfer(ctx, 20, bob, carol), entitlements.ErrUnauthorized)
	assert.ErrorIs(t, b.Transfer(ctx, 99, alice, bob), entitlements.ErrNotFound)

	require.NoError(t, b.Transfer(ctx, 20, alice, bob))
	owner, err := b.OwnerOf(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)

	approved, err := b.GetApproved(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, approved, "transfer clears the token approval")

	n, err := b.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testApprovals(t *testing.T, b entitlements.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Register(ctx, 30, alice))

	approved, err := b.GetApproved(ctx, 30)
	require.NoError(t, err)
	assert.Empty(t, approved)

	require.NoError(t, b.Approve(ctx, 30, bob))
	approved, err = b.GetApproved(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, bob, approved)

	require.NoError(t, b.Approve(ctx, 30, ""))
	approved, err = b.GetApproved(ctx, 30)
	require.NoError(t, err)
	assert.Empty(t, approved)

	assert.ErrorIs(t, b.Approve(ctx, 31, bob), entitlements.ErrNotFound)

	ok, err := b.IsApprovedForAll(ctx, alice, carol)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.SetApprovalForAll(ctx, alice, carol, true))
	require.NoError(t, b.SetApprovalForAll(ctx, alice, carol, true))
	ok, err = b.IsApprovedForAll(ctx, alice, carol)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.IsApprovedForAll(ctx, carol, alice)
	require.NoError(t, err)
	assert.False(t, ok, "operator approval is directional")

	require.NoError(t, b.SetApprovalForAll(ctx, alice, carol, false))
	ok, err = b.IsApprovedForAll(ctx, alice, carol)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testEnumeration(t *testing.T, b entitlements.Backend) {
	ctx := context.Background()
	for _, id := range []entitlements.TokenID{42, 5, 17} {
		require.NoError(t, b.Register(ctx, id, alice))
	}
	require.NoError(t, b.Register(ctx, 8, bob))

	total, err := b.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), total)

	n, err := b.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	ids, err := b.TokensOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []entitlements.TokenID{5, 17, 42}, ids)

	ids, err = b.TokensOf(ctx, carol)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testConcurrentRegister(t *testing.T, b entitlements.Backend) {
	ctx := context.Background()
	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		clashes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Register(ctx, 50, alice)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case entitlements.IsAlreadyExists(err):
				clashes++
			default:
				t.Errorf("unexpected register error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, clashes)
}
