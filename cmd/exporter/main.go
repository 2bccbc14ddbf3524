// Package main provides the exporter CLI: a one-shot, synchronous export
// of a single dataset, for local runs and debugging without the HTTP
// service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/migrator-io/migrator/internal/config"
	"github.com/migrator-io/migrator/internal/dataset"
	"github.com/migrator-io/migrator/internal/export"
	"github.com/migrator-io/migrator/internal/registry"
	"github.com/migrator-io/migrator/internal/storage"
)

func main() {
	var (
		datasetID    = flag.String("dataset", "", "dataset id to export (required)")
		registryFile = flag.String("registry", config.GetEnvStr("REGISTRY_FILE", "registry/odoo.yaml"), "registry file path")
		mappingsFile = flag.String("mappings", config.GetEnvStr("MAPPINGS_FILE", "mappings.yaml"), "mappings file path")
		datasetRoot  = flag.String("data", config.GetEnvStr("DATASET_ROOT", "./datasets"), "dataset root directory")
		artifactRoot = flag.String("out", config.GetEnvStr("ARTIFACT_ROOT", "./out"), "artifact output directory")
		databaseURL  = flag.String("db", config.GetEnvStr("DATABASE_URL", ""), "exceptions database URL (empty = in-memory)")
	)

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	if *datasetID == "" {
		logger.Error("-dataset is required")
		flag.Usage()
		os.Exit(2)
	}

	mappings, err := dataset.LoadMappingsFile(*mappingsFile)
	if err != nil {
		logger.Error("failed to load mappings", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var store storage.ExceptionStore = storage.NewInMemoryExceptionStore()

	if *databaseURL != "" {
		conn, err := storage.Connect(storage.NewConfig(*databaseURL))
		if err != nil {
			logger.Error("failed to connect exceptions store", slog.String("error", err.Error()))
			os.Exit(1)
		}

		persistent := storage.NewPersistentExceptionStore(conn, logger)
		defer func() {
			_ = persistent.Close()
		}()

		store = persistent
	}

	service := export.NewService(
		registry.NewLoader(*registryFile),
		store,
		dataset.NewDirRepository(*datasetRoot),
		mappings,
		*artifactRoot,
		logger,
	)

	result, err := service.Export(context.Background(), *datasetID)
	if err != nil {
		logger.Error("export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(result); err != nil {
		logger.Error("failed to encode result", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
