// Package main provides the migrator export service: an HTTP API that
// turns uploaded spreadsheet datasets into deterministic CSV bundles for
// ERP bulk import.
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/migrator-io/migrator/internal/api"
	"github.com/migrator-io/migrator/internal/config"
	"github.com/migrator-io/migrator/internal/dataset"
	"github.com/migrator-io/migrator/internal/export"
	"github.com/migrator-io/migrator/internal/registry"
	"github.com/migrator-io/migrator/internal/storage"
	"github.com/migrator-io/migrator/internal/task"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "migrator"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting migrator service",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("address", serverConfig.Address()),
	)

	store, cleanup := buildExceptionStore(logger)
	defer cleanup()

	registryFile := config.GetEnvStr("REGISTRY_FILE", "registry/odoo.yaml")
	artifactRoot := config.GetEnvStr("ARTIFACT_ROOT", "./out")
	datasetRoot := config.GetEnvStr("DATASET_ROOT", "./datasets")
	mappingsFile := config.GetEnvStr("MAPPINGS_FILE", "mappings.yaml")

	logger.Info("loaded export configuration",
		slog.String("registry_file", registryFile),
		slog.String("artifact_root", artifactRoot),
		slog.String("dataset_root", datasetRoot),
		slog.String("mappings_file", mappingsFile),
	)

	mappings, err := dataset.LoadMappingsFile(mappingsFile)
	if err != nil {
		logger.Warn("no mappings file loaded, exports will skip all models",
			slog.String("mappings_file", mappingsFile),
			slog.String("error", err.Error()),
		)

		mappings = dataset.NewStaticMappings("", nil)
	}

	service := export.NewService(
		registry.NewLoader(registryFile),
		store,
		dataset.NewDirRepository(datasetRoot),
		mappings,
		artifactRoot,
		logger,
	)

	runner := task.FromEnv(logger)
	defer runner.Shutdown()

	server := api.NewServer(serverConfig, service, runner, store)

	if err := server.Start(); err != nil {
		logger.Error("server failed",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("migrator service stopped")
}

// buildExceptionStore selects the exceptions backend: a SQL store when
// DATABASE_URL is set (PostgreSQL or SQLite by scheme), in-memory
// otherwise.
func buildExceptionStore(logger *slog.Logger) (storage.ExceptionStore, func()) {
	cfg := storage.LoadConfig()

	if err := cfg.Validate(); err != nil {
		logger.Warn("DATABASE_URL not configured - using in-memory exceptions store",
			slog.String("error", err.Error()),
		)

		return storage.NewInMemoryExceptionStore(), func() {}
	}

	conn, err := storage.Connect(cfg)
	if err != nil {
		logger.Error("failed to connect exceptions store",
			slog.String("database_url", cfg.MaskDatabaseURL()),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("exceptions store connected",
		slog.String("driver", conn.Driver()),
		slog.String("database_url", cfg.MaskDatabaseURL()),
	)

	store := storage.NewPersistentExceptionStore(conn, logger)

	return store, func() {
		_ = store.Close()
	}
}
