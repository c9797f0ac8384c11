// Package sqlitestore keeps ledger state in a single SQLite file, for single-node deployments
// that want durability without running a database server.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"slices"

	_ "github.com/mattn/go-sqlite3"

	"github.com/PaulFidika/subledger/entitlements"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - tokens, operators and expiries
// 2 - partial index on active expiries for the lapse sweeper
const currentSchemaVersion = 2

var _ entitlements.Backend = (*Store)(nil)

// Store implements entitlements.Backend on SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path (":memory:" for a throwaway store), applies
// pragmas and brings the schema up to date. Safe to call on an existing file.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: SQLite has a single writer, and each :memory: connection is its own database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 2 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS entitlement_expiries_active_idx
ON entitlement_expiries (expires_at) WHERE expires_at > 0`); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// SchemaVersion reports PRAGMA user_version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// go-sqlite3 rejects uint64 arguments with the high bit set, so ids are stored bit-for-bit as int64.
func dbID(id entitlements.TokenID) int64 { return int64(id) }

func clampTS(ts entitlements.Timestamp) int64 {
	if ts > entitlements.MaxTimestamp {
		return int64(entitlements.MaxTimestamp)
	}
	return int64(ts)
}

func (s *Store) Exists(ctx context.Context, id entitlements.TokenID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM entitlement_tokens WHERE token_id = ?`, dbID(id)).Scan(&n)
	return n > 0, err
}

func (s *Store) OwnerOf(ctx context.Context, id entitlements.TokenID) (entitlements.Principal, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT owner FROM entitlement_tokens WHERE token_id = ?`, dbID(id)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", entitlements.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return entitlements.Principal(owner), nil
}

func (s *Store) Register(ctx context.Context, id entitlements.TokenID, owner entitlements.Principal) error {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO entitlement_tokens (token_id, owner) VALUES (?, ?)`,
		dbID(id), string(owner))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return entitlements.ErrAlreadyExists
	}
	return nil
}

func (s *Store) Transfer(ctx context.Context, id entitlements.TokenID, from, to entitlements.Principal) error {
	res, err := s.db.ExecContext(ctx, `UPDATE entitlement_tokens SET owner = ?, approved = '' WHERE token_id = ? AND owner = ?`,
		string(to), dbID(id), string(from))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}
	return s.missOrMoved(ctx, id)
}

func (s *Store) Approve(ctx context.Context, id entitlements.TokenID, delegate entitlements.Principal) error {
	res, err := s.db.ExecContext(ctx, `UPDATE entitlement_tokens SET approved = ? WHERE token_id = ?`, string(delegate), dbID(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return entitlements.ErrNotFound
	}
	return nil
}

func (s *Store) GetApproved(ctx context.Context, id entitlements.TokenID) (entitlements.Principal, error) {
	var approved string
	err := s.db.QueryRowContext(ctx, `SELECT approved FROM entitlement_tokens WHERE token_id = ?`, dbID(id)).Scan(&approved)
	if errors.Is(err, sql.ErrNoRows) {
		return "", entitlements.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return entitlements.Principal(approved), nil
}

func (s *Store) SetApprovalForAll(ctx context.Context, owner, operator entitlements.Principal, approved bool) error {
	q := `DELETE FROM entitlement_operators WHERE owner = ? AND operator = ?`
	if approved {
		q = `INSERT OR IGNORE INTO entitlement_operators (owner, operator) VALUES (?, ?)`
	}
	_, err := s.db.ExecContext(ctx, q, string(owner), string(operator))
	return err
}

func (s *Store) IsApprovedForAll(ctx context.Context, owner, operator entitlements.Principal) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM entitlement_operators WHERE owner = ? AND operator = ?`,
		string(owner), string(operator)).Scan(&n)
	return n > 0, err
}

func (s *Store) TotalSupply(ctx context.Context) (uint64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM entitlement_tokens`).Scan(&n)
	return uint64(n), err
}

func (s *Store) BalanceOf(ctx context.Context, owner entitlements.Principal) (uint64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM entitlement_tokens WHERE owner = ?`, string(owner)).Scan(&n)
	return uint64(n), err
}

func (s *Store) TokensOf(ctx context.Context, owner entitlements.Principal) ([]entitlements.TokenID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token_id FROM entitlement_tokens WHERE owner = ?`, string(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []entitlements.TokenID{}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, entitlements.TokenID(v))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) SetExpiry(ctx context.Context, id entitlements.TokenID, expiresAt entitlements.Timestamp) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO entitlement_expiries (token_id, expires_at) VALUES (?, ?)
ON CONFLICT (token_id) DO UPDATE SET expires_at = excluded.expires_at`, dbID(id), clampTS(expiresAt))
	return err
}

func (s *Store) SetExpiryIfOwner(ctx context.Context, id entitlements.TokenID, owner entitlements.Principal, expiresAt entitlements.Timestamp) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO entitlement_expiries (token_id, expires_at)
SELECT token_id, ? FROM entitlement_tokens WHERE token_id = ? AND owner = ?
ON CONFLICT (token_id) DO UPDATE SET expires_at = excluded.expires_at`, clampTS(expiresAt), dbID(id), string(owner))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}
	return s.missOrMoved(ctx, id)
}

// missOrMoved explains a conditional write that matched no row.
func (s *Store) missOrMoved(ctx context.Context, id entitlements.TokenID) error {
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
	err := s.db.QueryRowContext(ctx, `SELECT expires_at FROM entitlement_expiries WHERE token_id = ?`, dbID(id)).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx, `SELECT token_id, expires_at FROM entitlement_expiries
WHERE expires_at > ? AND expires_at <= ? ORDER BY expires_at`, clampTS(from), clampTS(to))
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
		out = append(out, entitlements.ExpiryRecord{ID: entitlements.TokenID(id), ExpiresAt: entitlements.Timestamp(ts)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b entitlements.ExpiryRecord) int {
		switch {
		case a.ExpiresAt != b.ExpiresAt:
			if a.ExpiresAt < b.ExpiresAt {
				return -1
			}
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}
