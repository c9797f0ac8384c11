package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/migrate"
)

//go:embed *.sql
var migrationFS embed.FS

// FS exposes the embedded SQL for external runners.
var FS = migrationFS

// Migrations is a bun/migrate registry for the ledger tables.
var Migrations = migrate.NewMigrations()

func init() {
	if err := Migrations.Discover(migrationFS); err != nil {
		panic(fmt.Sprintf("migrations: discover embedded sql: %v", err))
	}
}

func newMigrator(db *sql.DB) *migrate.Migrator {
	return migrate.NewMigrator(bun.NewDB(db, pgdialect.New()), Migrations)
}

// Up applies every pending migration and returns the applied group, which is empty when the
// schema was already current.
func Up(ctx context.Context, db *sql.DB) (*migrate.MigrationGroup, error) {
	m := newMigrator(db)
	if err := m.Init(ctx); err != nil {
		return nil, fmt.Errorf("migrations: init: %w", err)
	}
	if err := m.Lock(ctx); err != nil {
		return nil, fmt.Errorf("migrations: lock: %w", err)
	}
	defer m.Unlock(ctx) //nolint:errcheck
	return m.Migrate(ctx)
}

// Down rolls back the most recently applied group.
func Down(ctx context.Context, db *sql.DB) (*migrate.MigrationGroup, error) {
	m := newMigrator(db)
	if err := m.Init(ctx); err != nil {
		return nil, fmt.Errorf("migrations: init: %w", err)
	}
	if err := m.Lock(ctx); err != nil {
		return nil, fmt.Errorf("migrations: lock: %w", err)
	}
	defer m.Unlock(ctx) //nolint:errcheck
	return m.Rollback(ctx)
}

// UpPool runs Up over a database/sql handle borrowed from pool.
func UpPool(ctx context.Context, pool *pgxpool.Pool) (*migrate.MigrationGroup, error) {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return Up(ctx, db)
}

// DownPool runs Down over a database/sql handle borrowed from pool.
func DownPool(ctx context.Context, pool *pgxpool.Pool) (*migrate.MigrationGroup, error) {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return Down(ctx, db)
}
