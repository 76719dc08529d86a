package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"urclec/internal/platform/dbx"
	"urclec/internal/platform/envconf"
	"urclec/internal/platform/logging"
)

func main() {
	if err := envconf.LoadDotEnv(""); err != nil {
		slog.Warn("load .env", "error", err)
	}
	logger := logging.Setup("migrate")
	if err := run(os.Args[1:]); err != nil {
		logger.Error("migrate", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dsn := fs.String("dsn", envconf.String("DB_DSN", ""), "Postgres URL (defaults to DB_DSN)")
	dir := fs.String("dir", envconf.String("MIGRATIONS_DIR", "migrations"), "Directory holding the SQL migrations")
	steps := fs.Int("steps", 1, "Migrations to undo with down")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: migrate <up|down|version> [options]

Options:
`)
		fs.PrintDefaults()
	}
	if len(args) == 0 {
		fs.Usage()
		return fmt.Errorf("subcommand required: up, down or version")
	}
	subcmd := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *dsn == "" {
		return fmt.Errorf("DB_DSN or -dsn is required")
	}

	switch subcmd {
	case "up":
		if err := dbx.Migrate(*dsn, *dir); err != nil {
			return err
		}
	case "down":
		if *steps <= 0 {
			return fmt.Errorf("-steps must be positive")
		}
		if err := dbx.Rollback(*dsn, *dir, *steps); err != nil {
			return err
		}
	case "version":
	default:
		fs.Usage()
		return fmt.Errorf("unknown subcommand %q", subcmd)
	}

	version, dirty, err := dbx.Version(*dsn, *dir)
	if err != nil {
		return err
	}
	slog.Info("schema version", "version", version, "dirty", dirty)
	return nil
}
