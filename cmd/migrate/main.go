package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/medtrack/medtrack-backend/pkg/config"
	"github.com/medtrack/medtrack-backend/pkg/db"
	"github.com/medtrack/medtrack-backend/pkg/logger"
	"github.com/medtrack/medtrack-backend/pkg/migrate"
)

const serviceName = "migrate"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cmd := fs.String("cmd", "up", "up|down|status|version|create|validate")
	dir := fs.String("dir", migrate.DefaultDir, "migrations directory on disk")
	name := fs.String("name", "", "migration name (create)")
	version := fs.String("version", "", "target version YYYYMMDDHHMMSS (version)")
	embedded := fs.Bool("embedded", false, "use the migrations compiled into the binary instead of -dir")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	src := migrate.DiskSource(*dir)
	if *embedded {
		src = migrate.EmbeddedSource()
	}

	// create and validate work on files only.
	switch *cmd {
	case "create":
		if *name == "" {
			fmt.Fprintln(stderr, "missing -name for create")
			return 2
		}
		path, err := migrate.CreateSQLMigration(*dir, *name, time.Now())
		if err != nil {
			fmt.Fprintf(stderr, "create migration: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "created migration:", path)
		return 0
	case "validate":
		if err := src.Validate(); err != nil {
			fmt.Fprintf(stderr, "migration validation failed:\n%v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "migration validation passed")
		return 0
	case "up", "down", "status", "version":
	default:
		fmt.Fprintf(stderr, "unknown -cmd value %q\n", *cmd)
		return 2
	}
	if *cmd == "version" && *version == "" {
		fmt.Fprintln(stderr, "missing -version for version command")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		return 1
	}
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": *cmd, "dir": src.Dir, "embedded": *embedded})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to connect to database", err)
		return 1
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()
	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "failed to extract sql.DB", err)
		return 1
	}

	logg.Info(ctx, "running migrations")
	if *cmd == "version" {
		err = migrate.MigrateToVersion(ctx, sqlDB, src, *version)
	} else {
		err = migrate.Run(ctx, sqlDB, src, *cmd)
	}
	if err != nil {
		logg.Error(ctx, "migration failed", err)
		return 1
	}
	logg.Info(ctx, "migrations finished")
	return 0
}
