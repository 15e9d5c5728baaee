package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/duckmesh/querygate/internal/config"
	"github.com/duckmesh/querygate/internal/storage"
	"github.com/duckmesh/querygate/internal/storage/gcs"
	"github.com/duckmesh/querygate/internal/storage/s3"
	"github.com/duckmesh/querygate/internal/warehouse"
	"github.com/duckmesh/querygate/internal/warehouse/bigquery"
	"github.com/duckmesh/querygate/internal/warehouse/duckdb"
)

// openWarehouse builds the configured backend and, when an export bucket is
// set, the store unload results are signed from. The returned func releases
// the export store.
func openWarehouse(ctx context.Context, cfg config.Config, logger *slog.Logger) (warehouse.Client, storage.ExportStore, func(), error) {
	noop := func() {}
	switch cfg.Warehouse.Backend {
	case config.BackendBigQuery:
		client, err := bigquery.New(ctx, bigquery.Config{
			ProjectID:   cfg.Warehouse.ProjectID,
			KeyFile:     cfg.Warehouse.KeyFile,
			Credentials: cfg.Warehouse.Credentials,
			Location:    cfg.Warehouse.Location,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, noop, err
		}
		if cfg.Export.Bucket == "" {
			return client, nil, noop, nil
		}
		exports, err := gcs.New(ctx, gcs.Config{
			Bucket:      cfg.Export.Bucket,
			ProjectID:   cfg.Warehouse.ProjectID,
			KeyFile:     cfg.Warehouse.KeyFile,
			Credentials: cfg.Warehouse.Credentials,
			Location:    cfg.Warehouse.Location,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, noop, fmt.Errorf("open export bucket: %w", err)
		}
		return client, exports, func() { _ = exports.Close() }, nil

	case config.BackendDuckDB:
		dataStore, err := s3.New(ctx, s3Config(cfg, cfg.ObjectStore.Bucket))
		if err != nil {
			return nil, nil, noop, fmt.Errorf("open data store: %w", err)
		}
		var exports *s3.Store
		if cfg.Export.Bucket != "" {
			exports, err = s3.New(ctx, s3Config(cfg, cfg.Export.Bucket))
			if err != nil {
				return nil, nil, noop, fmt.Errorf("open export bucket: %w", err)
			}
		}
		backendCfg := duckdb.Config{Path: cfg.Warehouse.DuckDBPath, DataStore: dataStore, Logger: logger}
		if exports != nil {
			backendCfg.ExportStore = exports
		}
		backend, err := duckdb.Open(ctx, backendCfg)
		if err != nil {
			return nil, nil, noop, err
		}
		if exports == nil {
			return backend, nil, noop, nil
		}
		return backend, exports, noop, nil

	default:
		return nil, nil, noop, fmt.Errorf("unsupported warehouse backend %q", cfg.Warehouse.Backend)
	}
}

func s3Config(cfg config.Config, bucket string) s3.Config {
	return s3.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	}
}
