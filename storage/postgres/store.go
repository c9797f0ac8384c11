// Package pgstore keeps ledger state in PostgreSQL. Tables are created by
// migrations/postgres in the Schema schema.
package pgstore

import (
	"context"
	"errors"
	"slices"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PaulFidika/subledger/entitlements"
)

var _ entitlements.Backend = (*Store)(nil)

// Schema holds the ledger tables. It must match migrations/postgres.
const Schema = "subledger"

// Store implements entitlements.Backend on a pgx pool.
type Store struct {
	pg   *pgxpool.Pool
	owns bool
}

// NewStore wraps an existing pool. Close leaves the pool open.
func NewStore(pg *pgxpool.Pool) *Store {
	return &Store{pg: pg}
}

// Open connects to dsn and returns a store that owns the pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := NewStore(pool)
	s.owns = true
	return s, nil
}

// Pool exposes the pool for the job queue and migrations.
func (s *Store) Pool() *pgxpool.Pool { return s.pg }

func (s *Store) Close() error {
	if s.owns {
		s.pg.Close()
	}
	return nil
}

func (s *Store) tokensTable() string    { return Schema + ".entitlement_tokens" }
func (s *Store) operatorsTable() string { return Schema + ".entitlement_operators" }
func (s *Store) expiriesTable() string  { return Schema + ".entitlement_expiries" }

// BIGINT is signed; ids are stored bit-for-bit.
func dbID(id entitlements.TokenID) int64 { return int64(id) }
func fromDBID(v int64) entitlements.TokenID { return entitlements.TokenID(v) }

func clampTS(ts entitlements.Timestamp) int64 {
	if ts > entitlements.MaxTimestamp {
		return int64(entitlements.MaxTimestamp)
	}
	return int64(ts)
}

func (s *Store) Exists(ctx context.Context, id entitlements.TokenID) (bool, error) {
	var ok bool
	err := s.pg.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+s.tokensTable()+` WHERE token_id=$1)`, dbID(id)).Scan(&ok)
	return ok, err
}

func (s *Store) OwnerOf(ctx context.Context, id entitlements.TokenID) (entitlements.Principal, error) {
	var owner string
	err := s.pg.QueryRow(ctx, `SELECT owner FROM `+s.tokensTable()+` WHERE token_id=$1`, dbID(id)).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", entitlements.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return entitlements.Principal(owner), nil
}

func (s *Store) Register(ctx context.Context, id entitlements.TokenID, owner entitlements.Principal) error {
	tag, err := s.pg.Exec(ctx, `INSERT INTO `+s.tokensTable()+` (token_id, owner) VALUES ($1, $2) ON CONFLICT (token_id) DO NOTHING`,
		dbID(id), string(owner))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return entitlements.ErrAlreadyExists
	}
	return nil
}

func (s *Store) Transfer(ctx context.Context, id entitlements.TokenID, from, to entitlements.Principal) error {
	tag, err := s.pg.Exec(ctx, `UPDATE `+s.tokensTable()+` SET owner=$3, approved='', updated_at=NOW() WHERE token_id=$1 AND owner=$2`,
		dbID(id), string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	ok, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return entitlements.ErrNotFound
	}
	return entitlements.ErrUnauthorized
}

func (s *Store) Approve(ctx context.Context, id entitlements.TokenID, delegate entitlements.Principal) error {
	tag, err := s.pg.Exec(ctx, `UPDATE `+s.tokensTable()+` SET approved=$2, updated_at=NOW() WHERE token_id=$1`,
		dbID(id), string(delegate))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return entitlements.ErrNotFound
	}
	return nil
}

func (s *Store) GetApproved(ctx context.Context, id entitlements.TokenID) (entitlements.Principal, error) {
	var approved string
	err := s.pg.QueryRow(ctx, `SELECT approved FROM `+s.tokensTable()+` WHERE token_id=$1`, dbID(id)).Scan(&approved)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", entitlements.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return entitlements.Principal(approved), nil
}

func (s *Store) SetApprovalForAll(ctx context.Context, owner, operator entitlements.Principal, approved bool) error {
	var err error
	if approved {
		_, err = s.pg.Exec(ctx, `INSERT INTO `+s.operatorsTable()+` (owner, operator) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			string(owner), string(operator))
	} else {
		_, err = s.pg.Exec(ctx, `DELETE FROM `+s.operatorsTable()+` WHERE owner=$1 AND operator=$2`,
			string(owner), string(operator))
	}
	return err
}

func (s *Store) IsApprovedForAll(ctx context.Context, owner, operator entitlements.Principal) (bool, error) {
	var ok bool
	err := s.pg.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+s.operatorsTable()+` WHERE owner=$1 AND operator=$2)`,
		string(owner), string(operator)).Scan(&ok)
	return ok, err
}

func (s *Store) TotalSupply(ctx context.Context) (uint64, error) {
	var n int64
	err := s.pg.QueryRow(ctx, `SELECT COUNT(*) FROM `+s.tokensTable()).Scan(&n)
	return uint64(n), err
}

func (s *Store) BalanceOf(ctx context.Context, owner entitlements.Principal) (uint64, error) {
	var n int64
	err := s.pg.QueryRow(ctx, `SELECT COUNT(*) FROM `+s.tokensTable()+` WHERE owner=$1`, string(owner)).Scan(&n)
	return uint64(n), err
}

// TokensOf sorts in Go because the signed column order differs from uint64 order.
func (s *Store) TokensOf(ctx context.Context, owner entitlements.Principal) ([]entitlements.TokenID, error) {
	rows, err := s.pg.Query(ctx, `SELECT token_id FROM `+s.tokensTable()+` WHERE owner=$1`, string(owner))
	if err != nil {
		return nil, err
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	out := make([]entitlements.TokenID, 0, len(raw))
	for _, v := range raw {
		out = append(out, fromDBID(v))
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) SetExpiry(ctx context.Context, id entitlements.TokenID, expiresAt entitlements.Timestamp) error {
	_, err := s.pg.Exec(ctx, `INSERT INTO `+s.expiriesTable()+` (token_id, expires_at) VALUES ($1, $2)
ON CONFLICT (token_id) DO UPDATE SET expires_at=EXCLUDED.expires_at, updated_at=NOW()`,
		dbID(id), clampTS(expiresAt))
	return err
}

// SetExpiryIfOwner takes a share lock on the token row, so a concurrent Transfer either
// commits first and fails the owner match or waits for this write.
func (s *Store) SetExpiryIfOwner(ctx context.Context, id entitlements.TokenID, owner entitlements.Principal, expiresAt entitlements.Timestamp) error {
	tag, err := s.pg.Exec(ctx, `WITH owned AS (
  SELECT token_id FROM `+s.tokensTable()+` WHERE token_id=$1 AND owner=$2 FOR SHARE
)
INSERT INTO `+s.expiriesTable()+` (token_id, expires_at) SELECT token_id, $3::bigint FROM owned
ON CONFLICT (token_id) DO UPDATE SET expires_at=EXCLUDED.expires_at, updated_at=NOW()`,
		dbID(id), string(owner), clampTS(expiresAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	ok, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return entitlements.ErrNotFound
	}
	return entitlements.ErrUnauthorized
}

func (s *Store) Expiry(ctx context.Context, id entitlements.TokenID) (entitlements.Timestamp, error) {
	var ts int64
	err := s.pg.QueryRow(ctx, `SELECT expires_at FROM `+s.expiriesTable()+` WHERE token_id=$1`, dbID(id)).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return entitlements.Timestamp(ts), nil
}

func (s *Store) ExpiringBetween(ctx context.Context, from, to entitlements.Timestamp) ([]entitlements.ExpiryRecord, error) {
	if to <= from {
		return nil, nil
	}
	rows, err := s.pg.Query(ctx, `SELECT token_id, expires_at FROM `+s.expiriesTable()+`
WHERE expires_at > $1 AND expires_at <= $2 ORDER BY expires_at`, clampTS(from), clampTS(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []entitlements.ExpiryRecord
	for rows.Next() {
		var id, ts int64
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, err
		}
		out = append(out, entitlements.ExpiryRecord{ID: fromDBID(id), ExpiresAt: entitlements.Timestamp(ts)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExpiresAt != out[j].ExpiresAt {
			return out[i].ExpiresAt < out[j].ExpiresAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
