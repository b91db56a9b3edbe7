// Command server runs the access control engine for one tenant: it loads
// the entity graph from the configured database, serves checks and commands
// in process, and exposes metrics over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/JoshuaRamirez/ACS-sub000/db"
	"github.com/JoshuaRamirez/ACS-sub000/engine"
	"github.com/JoshuaRamirez/ACS-sub000/engine/models"
	"github.com/JoshuaRamirez/ACS-sub000/internal/config"
	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

func main() {
	configFile := flag.String("config", "", "path to the YAML configuration file")
	metricsAddr := flag.String("metrics-addr", ":9090", "listen address for the metrics endpoint")
	flag.Parse()

	if err := run(*configFile, *metricsAddr); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, metricsAddr string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := slogging.Initialize(slogging.Config{
		Level:            slogging.ParseLogLevel(cfg.Logging.Level),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.AlsoLogToConsole,
		TenantID:         cfg.Tenant.ID,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := slogging.Get()
	defer func() { _ = logger.Close() }()

	gormDB, err := db.NewGormDB(db.GormConfig{
		Type:              db.DatabaseType(cfg.Database.Type),
		PostgresHost:      cfg.Database.Postgres.Host,
		PostgresPort:      cfg.Database.Postgres.Port,
		PostgresUser:      cfg.Database.Postgres.User,
		PostgresPassword:  cfg.Database.Postgres.Password,
		PostgresDatabase:  cfg.Database.Postgres.Database,
		PostgresSSLMode:   cfg.Database.Postgres.SSLMode,
		MySQLHost:         cfg.Database.MySQL.Host,
		MySQLPort:         cfg.Database.MySQL.Port,
		MySQLUser:         cfg.Database.MySQL.User,
		MySQLPassword:     cfg.Database.MySQL.Password,
		MySQLDatabase:     cfg.Database.MySQL.Database,
		SQLServerHost:     cfg.Database.SQLServer.Host,
		SQLServerPort:     cfg.Database.SQLServer.Port,
		SQLServerUser:     cfg.Database.SQLServer.User,
		SQLServerPassword: cfg.Database.SQLServer.Password,
		SQLServerDatabase: cfg.Database.SQLServer.Database,
		SQLitePath:        cfg.Database.SQLite.Path,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = gormDB.Close() }()

	if err := gormDB.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	redisDB, err := db.NewRedisDB(db.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer func() { _ = redisDB.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := engine.NewService(engine.ServiceConfig{
		TenantID:             cfg.Tenant.ID,
		ChannelCapacity:      cfg.Engine.ChannelCapacity,
		RetryMaxAttempts:     cfg.Engine.RetryMaxAttempts,
		RetryBaseDelay:       cfg.Engine.RetryBaseDelay,
		PersistTimeout:       cfg.Engine.PersistTimeout,
		ShutdownTimeout:      cfg.Engine.ShutdownTimeout,
		DLQDrainInterval:     cfg.Engine.DLQDrainInterval,
		DLQAbandonThreshold:  cfg.Engine.DLQAbandonThreshold,
		SlowCommandThreshold: cfg.Engine.SlowCommandThreshold,
	}, gormDB.DB(), redisDB, registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	var poolMonitor *db.HealthMonitor
	if sqlDB, err := gormDB.DB().DB(); err != nil {
		logger.Warn("Connection pool monitoring disabled: %v", err)
	} else {
		poolMonitor = db.NewHealthMonitor(sqlDB, 30*time.Second)
		poolMonitor.Start(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := gormDB.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Metrics listening on %s", metricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	svc.Stop()
	if poolMonitor != nil {
		poolMonitor.Stop()
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
