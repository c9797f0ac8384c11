package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun/migrate"

	"github.com/PaulFidika/subledger/config"
	"github.com/PaulFidika/subledger/jobs"
	migrations "github.com/PaulFidika/subledger/migrations/postgres"
	sqlitestore "github.com/PaulFidika/subledger/storage/sqlite"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	River bool
}

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply or roll back storage migrations",
		Long: `Apply (up, the default) or roll back (down) the schema for the configured
storage driver. Postgres runs the embedded bun migrations and, with --river or
jobs.river, river's queue tables. SQLite migrates itself on open. Memory and
redis need no migrations.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			if direction != "up" && direction != "down" {
				return fmt.Errorf("unknown direction %q: must be up or down", direction)
			}
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), cmd.OutOrStdout(), cfg, direction, opts.River || cfg.Jobs.River)
		},
	}
	cmd.Flags().BoolVar(&opts.River, "river", false, "also migrate river's queue tables (postgres only)")
	return cmd
}

func runMigrate(ctx context.Context, out io.Writer, cfg config.Config, direction string, river bool) error {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		return migratePostgres(ctx, out, pool, direction, river)
	case config.DriverSQLite:
		if direction == "down" {
			return fmt.Errorf("sqlite migrations cannot be rolled back; remove %s instead", cfg.Storage.SQLitePath)
		}
		st, err := sqlitestore.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer st.Close()
		v, err := st.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "sqlite schema at version %d\n", v)
		return nil
	default:
		fmt.Fprintf(out, "%s storage has no migrations\n", cfg.Storage.Driver)
		return nil
	}
}

func migratePostgres(ctx context.Context, out io.Writer, pool *pgxpool.Pool, direction string, river bool) error {
	var (
		group *migrate.MigrationGroup
		err   error
	)
	if direction == "down" {
		group, err = migrations.DownPool(ctx, pool)
	} else {
		group, err = migrations.UpPool(ctx, pool)
	}
	if err != nil {
		return err
	}
	if group == nil || group.IsZero() {
		fmt.Fprintln(out, "ledger schema: nothing to do")
	} else {
		fmt.Fprintf(out, "ledger schema: %s %s\n", direction, group)
	}
	if river && direction == "up" {
		n, err := jobs.MigrateRiver(ctx, pool)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "river: applied %d migrations\n", n)
	}
	return nil
}
