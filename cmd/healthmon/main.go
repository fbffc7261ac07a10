package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/af-corp/aegis-router/internal/catalog"
	"github.com/af-corp/aegis-router/internal/config"
	"github.com/af-corp/aegis-router/internal/healthmon"
	"github.com/af-corp/aegis-router/internal/httputil"
	"github.com/af-corp/aegis-router/internal/keypool"
	"github.com/af-corp/aegis-router/internal/telemetry"
	"github.com/af-corp/aegis-router/internal/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
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

	logger := telemetry.NewLogger(os.Stdout, cfg.Telemetry).With("service", "healthmon")
	slog.SetDefault(logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := loader.Watch(ctx); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	var cat atomic.Pointer[catalog.Catalog]
	cat.Store(catalog.New(loader.Sources()))
	loader.OnReload(func() {
		cat.Store(catalog.New(loader.Sources()))
		logger.Info("source catalog reloaded")
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	keys := keypool.NewClient(cfg.Credentials.ManagerURL, cfg.Credentials.ClientTimeout, loader.Credentials, logger)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	chat := transport.NewChatClient(&http.Client{})
	monitor := healthmon.NewMonitor(cfg.HealthCheck, cat.Load,
		transport.NewProber(chat, cfg.HealthCheck, logger),
		keys,
		healthmon.WithReporter(keys),
		healthmon.WithPublisher(healthmon.NewStatusPublisher(hs)),
		healthmon.WithMetrics(metrics),
		healthmon.WithLogger(logger),
	)

	r := chi.NewRouter()
	r.Use(httputil.RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", healthHandler)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	healthmon.NewHandler(monitor, logger).Routes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HealthPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	grpcAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Error("failed to listen for grpc", "addr", grpcAddr, "error", err)
		os.Exit(1)
	}

	monitor.Start(ctx)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("health monitor starting", "addr", addr, "grpc_addr", grpcAddr, "version", version)
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		errCh <- gs.Serve(lis)
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
	hs.Shutdown()
	gs.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	monitor.Wait()
	logger.Info("health monitor stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}
