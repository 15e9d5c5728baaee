package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/duckmesh/querygate/internal/api"
	"github.com/duckmesh/querygate/internal/auth"
	"github.com/duckmesh/querygate/internal/config"
	"github.com/duckmesh/querygate/internal/driver"
	"github.com/duckmesh/querygate/internal/observability"
	"github.com/duckmesh/querygate/internal/poller"
	"github.com/duckmesh/querygate/internal/stream"
	"github.com/duckmesh/querygate/internal/usage"
	usagepostgres "github.com/duckmesh/querygate/internal/usage/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("querygate-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reporters := usage.Fanout{usage.Metrics{}}
	readiness := []api.ReadinessCheck{}
	var usageStore *usagepostgres.Store
	if cfg.UsageLog.DSN != "" {
		usageDB, err := usagepostgres.Open(ctx, usagepostgres.DBConfig{
			DSN:             cfg.UsageLog.DSN,
			MaxOpenConns:    cfg.UsageLog.MaxOpenConns,
			MaxIdleConns:    cfg.UsageLog.MaxIdleConns,
			ConnMaxIdleTime: cfg.UsageLog.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.UsageLog.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open usage log db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = usageDB.Close() }()
		usageStore = usagepostgres.NewStore(usageDB)
		reporters = append(reporters, usageStore)
		readiness = append(readiness, api.CheckUsageLogDSN(cfg), usageStore.HealthCheck)
	} else {
		logger.Warn("usage log disabled; QUERYGATE_USAGE_DSN is not set")
	}

	client, exports, closeExports, err := openWarehouse(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open warehouse", slog.String("backend", string(cfg.Warehouse.Backend)), slog.Any("error", err))
		os.Exit(1)
	}
	defer closeExports()

	registry := stream.NewRegistry(logger)
	if err := observability.RegisterStreamGauges(prometheus.DefaultRegisterer, registry); err != nil {
		logger.Error("failed to register stream gauges", slog.Any("error", err))
		os.Exit(1)
	}

	gateway, err := driver.New(client, driver.Options{
		Config: driver.Config{
			DataSource:      cfg.Warehouse.DataSource,
			ReadOnly:        cfg.Warehouse.ReadOnly,
			Concurrency:     cfg.Warehouse.Concurrency,
			CSVEscapeSymbol: cfg.Export.CSVEscapeSymbol,
			SignedURLTTL:    cfg.Export.SignedURLTTL,
			Poll: poller.Config{
				Timeout:     cfg.Poll.Timeout,
				MaxInterval: cfg.Poll.MaxInterval,
				BaseStep:    cfg.Poll.BaseStep,
			},
			Stream:    stream.Options{HighWaterMark: cfg.Stream.HighWaterMark},
			MaxQueued: cfg.Stream.MaxQueued,
		},
		Exports:  exports,
		Reporter: reporters,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to initialize driver", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = gateway.Close() }()

	deps := api.Dependencies{
		Logger:            logger,
		Gateway:           gateway,
		Streams:           registry,
		Readiness:         api.CombineReadinessChecks(append(readiness, api.CheckWarehouse(gateway))...),
		DependencyTimeout: 5 * time.Second,
	}
	if usageStore != nil {
		deps.Usage = usageStore
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("backend", string(cfg.Warehouse.Backend)),
			slog.Bool("unload", gateway.IsUnloadSupported()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
