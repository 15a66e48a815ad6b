package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/BaSui01/depflow/internal/migration"
	"go.uber.org/zap"
)

// runMigrate handles "depflow migrate <subcommand> [arg] [flags]".
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	sub := args[0]
	switch sub {
	case "help", "-h", "--help":
		printMigrateUsage()
		return
	case "reset":
		sub = "down-all"
	}

	rest := args[1:]
	n := 0
	switch sub {
	case "steps", "goto", "force":
		if len(rest) < 1 {
			fmt.Fprintf(os.Stderr, "migrate %s requires a number\n", sub)
			os.Exit(1)
		}
		v, err := strconv.Atoi(rest[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid number %q: %v\n", rest[0], err)
			os.Exit(1)
		}
		n = v
		rest = rest[1:]
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	verbose := fs.Bool("verbose", false, "Log migration progress")
	fs.Parse(rest)

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	m, err := createMigrator(*configPath, *dbType, *dbURL, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = migration.NewCLI(m).Run(ctx, sub, n)
	stop()
	if closeErr := m.Close(); closeErr != nil {
		logger.Warn("failed to close migrator", zap.Error(closeErr))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// createMigrator prefers an explicit --db-type/--db-url pair and falls back
// to the store.database section of the config.
func createMigrator(configPath, dbType, dbURL string, logger *zap.Logger) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, logger)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Store.Database.Driver = dbType
	}
	return migration.NewMigratorFromConfig(cfg, logger)
}

func printMigrateUsage() {
	fmt.Println(`SQL schema migrations for the sql store backend

Usage:
  depflow migrate <subcommand> [n] [options]

Subcommands:
  up          Apply all pending migrations
  down        Roll back the last migration
  reset       Roll back all migrations
  steps <n>   Apply (n > 0) or roll back (n < 0) n migrations
  goto <v>    Migrate to version v
  force <v>   Set the version without running migrations (clears dirty state)
  version     Show the current version
  status      List migrations and whether they are applied
  info        Show a summary

Options:
  --config <path>    Path to configuration file (YAML)
  --db-type <type>   postgres or mysql (default: store.database.driver)
  --db-url <url>     Connection URL (default: built from store.database)
  --verbose          Log migration progress

Examples:
  depflow migrate up
  depflow migrate status --config /etc/depflow/config.yaml
  depflow migrate steps -1
  depflow migrate force 1
  depflow migrate up --db-type postgres --db-url postgres://depflow@localhost:5432/depflow

SQLite databases are created by "depflow serve" and have no migrations.`)
}
