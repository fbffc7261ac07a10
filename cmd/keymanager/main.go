package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/af-corp/aegis-router/internal/auth"
	"github.com/af-corp/aegis-router/internal/config"
	"github.com/af-corp/aegis-router/internal/httputil"
	"github.com/af-corp/aegis-router/internal/keypool"
	"github.com/af-corp/aegis-router/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := telemetry.NewLogger(os.Stdout, cfg.Telemetry).With("service", "keymanager")
	slog.SetDefault(logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := loader.Watch(ctx); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	store, closeStore := usageStore(cfg.Database, logger)
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	manager := keypool.NewManager(loader.Credentials(), store, cfg.Credentials.ToleranceWindow, metrics, logger)
	loader.OnReload(func() {
		manager.UpdatePools(loader.Credentials())
		logger.Info("credential pools reloaded", "sources", len(manager.Sources()))
	})

	refresh := keypool.NewRefreshJob(manager, cfg.Credentials, logger)
	refresh.Start(ctx)

	r := chi.NewRouter()
	r.Use(httputil.RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	if cfg.Server.AdminToken == "" {
		logger.Warn("admin token not set, /refresh_cache is unauthenticated")
	}
	keypool.NewHandler(manager, refresh, logger, auth.AdminToken(cfg.Server.AdminToken, logger)).Routes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.KeyManagerPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("key manager starting", "addr", addr, "sources", len(manager.Sources()), "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	refresh.Wait()
	logger.Info("key manager stopped")
}

// usageStore connects to PostgreSQL, falling back to an in-memory store
// when no database is configured or it cannot be reached.
func usageStore(db config.DatabaseConfig, logger *slog.Logger) (keypool.UsageStore, func()) {
	if db.Host == "" {
		logger.Warn("database not configured, usage records are kept in memory")
		return keypool.NewMemoryUsageStore(), func() {}
	}

	pool, err := pgxpool.New(context.Background(), db.DSN())
	if err != nil {
		logger.Warn("invalid database config, usage records are kept in memory", "error", err)
		return keypool.NewMemoryUsageStore(), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		logger.Warn("database not reachable, usage records are kept in memory", "error", err)
		return keypool.NewMemoryUsageStore(), func() {}
	}
	logger.Info("database connected", "host", db.Host, "name", db.Name)
	return keypool.NewPostgresUsageStore(pool), pool.Close
}
