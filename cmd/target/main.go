// cmd/target/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"upkeep-dispatcher/internal/config"
	"upkeep-dispatcher/internal/infra/rpc"
	"upkeep-dispatcher/internal/target"
	"upkeep-dispatcher/internal/tracing"

	"github.com/google/uuid"
	otelgrpc "go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

func main() {
	// 1. Init logger, config and tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	name := cfg.Target.Name
	if name == "" {
		name = "target-" + uuid.New().String()[:8]
	}

	tracerShutdown, err := tracing.InitTracer("upkeep-target", cfg.TracingEnabled, logger)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// 2. Root context and graceful shutdown
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel, logger)

	targetServer := target.NewServer(name, cfg.Target.FailEvery, logger)

	// 3. gRPC server
	lis, err := net.Listen("tcp", cfg.Target.GrpcListenAddr)
	if err != nil {
		logger.Error("failed to listen for gRPC", "addr", cfg.Target.GrpcListenAddr, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	rpc.RegisterRefreshServer(grpcServer, targetServer)

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.Target.GrpcListenAddr, "target_name", name)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server failed", "error", err)
			cancel()
		}
	}()

	// 4. HTTP server
	httpServer := &http.Server{
		Addr:              cfg.Target.HttpListenAddr,
		Handler:           targetServer,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Target.HttpListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// 5. Block until shutdown signal
	<-rootCtx.Done()
	logger.Info("shutting down target node gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	grpcServer.GracefulStop()

	status := targetServer.Status()
	logger.Info("target node shut down", "refreshes", status.Refreshes, "failures", status.Failures)
}

func setupGracefulShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()
	}()
}
