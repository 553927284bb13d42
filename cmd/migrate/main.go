package main

import (
	"GameLedger/internal/config"
	"GameLedger/internal/observability"
	"GameLedger/internal/persistence"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-config file] <up|down|status>")
	fmt.Fprintln(os.Stderr, "  up     - apply all pending migrations")
	fmt.Fprintln(os.Stderr, "  down   - roll back the last migration")
	fmt.Fprintln(os.Stderr, "  status - list migrations and when they were applied")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  GAMELEDGER_POSTGRES_DSN             - Postgres connection string")
	fmt.Fprintln(os.Stderr, "  GAMELEDGER_POSTGRES_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
}

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a TOML config file")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger("migrate", cfg.LogLevel)

	dir := cfg.Postgres.MigrationsDir
	if dir == "" {
		dir = "migrations"
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	migrator := persistence.NewMigrator(db, dir, logger)

	switch flag.Arg(0) {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate status")
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tFILE\tAPPLIED")
		for _, s := range statuses {
			applied := "pending"
			if s.Applied {
				applied = s.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Version, s.Filename, applied)
		}
		_ = tw.Flush()

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}
}
