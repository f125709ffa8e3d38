package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"StableLedger/internal/config"
	"StableLedger/internal/observability"
	"StableLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back StableLedger schema migrations",
		Long: `migrate runs the SQL files in migrations.dir against postgres.dsn.

Settings come from stableledger.yaml (or --config) and STABLE_* env vars,
e.g. STABLE_POSTGRES_DSN and STABLE_MIGRATIONS_DIR.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), configPath, func(ctx context.Context, m *persistence.Migrator) error {
					n, err := m.Up(ctx)
					if err != nil {
						return fmt.Errorf("migrate up: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), configPath, func(ctx context.Context, m *persistence.Migrator) error {
					if err := m.Down(ctx); err != nil {
						return fmt.Errorf("migrate down: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "rolled back last migration")
					return nil
				})
			},
		},
	)
	return cmd
}

func withMigrator(ctx context.Context, configPath string, fn func(context.Context, *persistence.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	logger := observability.NewLogger("migrate")
	logger.Info().Str("dir", cfg.Migrations.Dir).Msg("running migrations")
	return fn(ctx, persistence.NewMigrator(db, cfg.Migrations.Dir))
}
