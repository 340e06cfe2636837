package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"ergon.app/erp/common/logger"
	"ergon.app/erp/core/config"
	"ergon.app/erp/core/db"
)

func main() {
	versionOnly := flag.Bool("version", false, "print the applied schema version and exit")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeMigrate)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Setup(cfg)

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if !*versionOnly {
		if err := database.Migrate(ctx); err != nil {
			slog.ErrorContext(ctx, "migration failed", "error", err)
			os.Exit(1)
		}
	}

	version, err := database.MigrationVersion(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read schema version", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "schema up to date", "driver", database.Driver(), "version", version)
}
