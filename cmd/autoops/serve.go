package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-autoops/internal/api"
	"github.com/miradorstack/mirador-autoops/internal/cache"
	"github.com/miradorstack/mirador-autoops/internal/config"
	"github.com/miradorstack/mirador-autoops/internal/engine"
	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/export"
	"github.com/miradorstack/mirador-autoops/internal/health/probes"
	"github.com/miradorstack/mirador-autoops/internal/metrics"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/remediation"
	"github.com/miradorstack/mirador-autoops/internal/rules"
	"github.com/miradorstack/mirador-autoops/internal/services"
	"github.com/miradorstack/mirador-autoops/internal/store"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the operations service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				slog.Error("failed to load config", slog.String("path", *configPath), slog.Any("error", err))
				return err
			}
			return serve(cfg)
		},
	}
}

// closers run in reverse registration order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(cfg *config.Config) error {
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-autoops", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		return err
	}

	var cleanup closers
	defer func() { cleanup.run() }()

	var leases cache.Provider = cache.NewMemoryProvider(nil)
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("redis lease ledger unavailable, using in-process leases", slog.Any("error", err))
		} else {
			leases = provider
			cleanup.add(func() { _ = provider.Close() })
		}
	}

	repos, err := openRepositories(cfg.Storage, logger, &cleanup)
	if err != nil {
		logger.Error("failed to open storage", slog.String("driver", cfg.Storage.Driver), slog.Any("error", err))
		return err
	}

	bus := events.NewBus(cfg.Events.BufferSize, logger)
	bus.Subscribe("log", func(e events.Event) {
		logger.Debug("event", slog.String("type", string(e.Type())), slog.String("subject", e.Subject()))
	})
	if cfg.Events.NATS.Enabled {
		sink, err := events.NewNATSSink(cfg.Events.NATS.URL, cfg.Events.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("nats event sink unavailable", slog.String("url", cfg.Events.NATS.URL), slog.Any("error", err))
		} else {
			bus.Subscribe("nats", sink.Handle)
			cleanup.add(sink.Close)
		}
	}
	if cfg.Export.Influx.Enabled {
		sink := export.NewInfluxSink(export.InfluxConfig{
			URL:    cfg.Export.Influx.URL,
			Token:  cfg.Export.Influx.Token,
			Org:    cfg.Export.Influx.Org,
			Bucket: cfg.Export.Influx.Bucket,
		}, logger)
		bus.Subscribe("influx", sink.Handle)
		cleanup.add(sink.Close)
	}
	// Subscribers drain before their sinks close.
	cleanup.add(bus.Close)

	registry := remediation.NewRegistry(bus, nil, logger)
	if cfg.Remediation.Docker {
		restarter, err := remediation.NewContainerRestarter(remediation.IntentHandler(logger), cfg.Remediation.StopTimeoutSeconds)
		if err != nil {
			logger.Warn("docker restart handler unavailable", slog.Any("error", err))
		} else {
			registry.Register(models.ActionRestart, restarter)
			cleanup.add(func() { _ = restarter.Close() })
		}
	}

	core, err := engine.NewCore(engine.OptionsFromConfig(cfg), engine.Deps{
		Repositories: repos,
		Leases:       leases,
		Publisher:    bus,
		Remediation:  registry,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to build core", slog.Any("error", err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pack, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		logger.Error("failed to load rule pack", slog.String("path", cfg.Rules.Path), slog.Any("error", err))
		return err
	}
	if err := core.ApplyRulePack(ctx, pack); err != nil {
		logger.Error("failed to apply rule pack", slog.Any("error", err))
		return err
	}
	if cfg.Rules.Watch && cfg.Rules.Path != "" {
		go func() {
			if err := rules.Watch(ctx, cfg.Rules.Path, core.ApplyRulePack, logger); err != nil {
				logger.Warn("rule pack watch stopped", slog.Any("error", err))
			}
		}()
	}

	defaults := engine.HealthDefaults(cfg.Health)
	for _, check := range cfg.Health.Checks {
		built, err := probes.Build(check, defaults)
		if err != nil {
			logger.Error("invalid health check", slog.String("check_id", check.ID), slog.Any("error", err))
			return err
		}
		if built.Closer != nil {
			closer := built.Closer
			cleanup.add(func() { _ = closer.Close() })
		}
		if err := core.RegisterHealthCheck(built.ID, built.Name, built.Kind, built.Probe, built.Options); err != nil {
			return fmt.Errorf("register health check %s: %w", built.ID, err)
		}
		logger.Info("health check registered",
			slog.String("check_id", built.ID),
			slog.String("type", check.Type),
			slog.Duration("interval", built.Options.Interval),
		)
	}

	// Probe loops stop before their connections close.
	cleanup.add(core.Stop)
	core.Start(ctx)

	server, err := api.NewServer(cfg.Server, services.NewOperationsService(logger, core))
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		return err
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	cleanup.run()
	cleanup = nil
	logger.Info("mirador-autoops stopped")
	return nil
}

func openRepositories(cfg config.StorageConfig, logger *slog.Logger, cleanup *closers) (store.Repositories, error) {
	if cfg.Driver != "badger" {
		return store.NewMemoryRepositories(), nil
	}
	db, err := store.OpenBadger(store.BadgerConfig{
		Path:       cfg.Path,
		SyncWrites: cfg.SyncWrites,
		GCInterval: cfg.GCInterval,
		Logger:     logger,
	})
	if err != nil {
		return store.Repositories{}, err
	}
	cleanup.add(func() {
		if err := db.Close(); err != nil {
			logger.Warn("close badger store", slog.Any("error", err))
		}
	})
	logger.Info("badger store opened", slog.String("path", cfg.Path))
	return db.Repositories(), nil
}
