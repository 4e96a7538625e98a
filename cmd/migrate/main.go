package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"AegisVault/internal/config"
	"AegisVault/internal/observability"
	"AegisVault/internal/persistence"
	"AegisVault/internal/projection"
)

func usage() {
	fmt.Println("Usage: migrate [-config vault.yaml] <up|down|status|rebuild>")
	fmt.Println("  up      - apply all pending migrations")
	fmt.Println("  down    - roll back the last migration")
	fmt.Println("  status  - list applied migrations")
	fmt.Println("  rebuild - rebuild projections from the event log")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  VAULT_POSTGRES_DSN    - Postgres connection string")
	fmt.Println("  VAULT_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
	fmt.Println("  VAULT_GENESIS_COOLDOWN - genesis cooldown seconds, used by rebuild")
}

func main() {
	configPath := flag.String("config", os.Getenv("VAULT_CONFIG"), "path to the YAML config file")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}
	logger := observability.NewLoggerWithLevel("migrate", observability.ParseLogLevel(cfg.LogLevel))

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("FATAL: open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, logger)

	switch flag.Arg(0) {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			log.Fatalf("FATAL: migrate up: %v", err)
		}
		logger.Info().Int("applied", n).Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatalf("FATAL: migrate down: %v", err)
		}
		logger.Info().Msg("last migration rolled back")

	case "status":
		applied, err := migrator.Applied(ctx)
		if err != nil {
			log.Fatalf("FATAL: migrate status: %v", err)
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
		}
		for _, m := range applied {
			fmt.Printf("%s  %s\n", m.Version, m.Filename)
		}

	case "rebuild":
		if err := projection.RebuildProjections(ctx, db, cfg.Genesis.CooldownDuration, logger); err != nil {
			log.Fatalf("FATAL: rebuild projections: %v", err)
		}
		logger.Info().Msg("projections rebuilt")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}
}
