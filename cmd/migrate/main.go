package main

// Run database migrations:
//   go run ./cmd/migrate            # apply pending migrations
//   go run ./cmd/migrate -down      # roll back the latest migration
//   go run ./cmd/migrate -status    # print applied/pending migrations

import (
	"context"
	"flag"
	"os"

	"resume-bullets/internal/shared/config"
	"resume-bullets/internal/shared/storage/db"
	"resume-bullets/internal/shared/telemetry"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	status := flag.Bool("status", false, "print migration status and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		telemetry.Error("migrate.config_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	telemetry.Configure(cfg.Env, cfg.LogLevel)
	ctx := context.Background()

	opts := db.OptionsFromEnv(db.DefaultMigrateOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer sqlDB.Close()

	switch {
	case *status:
		err = db.MigrationStatus(ctx, sqlDB)
	case *down:
		err = db.RollbackMigration(ctx, sqlDB)
	default:
		err = db.RunMigrations(ctx, sqlDB)
	}
	if err != nil {
		telemetry.Error("migrate.failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	version, err := db.SchemaVersion(ctx, sqlDB)
	if err != nil {
		telemetry.Error("migrate.version_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	telemetry.Info("migrate.done", map[string]any{"schema_version": version})
}
