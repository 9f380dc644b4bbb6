// cmd/dispatcher/main.go
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

	http_api "upkeep-dispatcher/internal/api/http"
	"upkeep-dispatcher/internal/config"
	"upkeep-dispatcher/internal/domain"
	"upkeep-dispatcher/internal/events"
	"upkeep-dispatcher/internal/infra/etcd"
	http_infra "upkeep-dispatcher/internal/infra/http"
	"upkeep-dispatcher/internal/infra/memory"
	"upkeep-dispatcher/internal/infra/rpc"
	"upkeep-dispatcher/internal/metrics"
	"upkeep-dispatcher/internal/registry"
	"upkeep-dispatcher/internal/scheduler"
	"upkeep-dispatcher/internal/tracing"
	"upkeep-dispatcher/internal/usecase"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func main() {
	// 1. Initialize logger, config and tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	tracerShutdown, err := tracing.InitTracer("upkeep-dispatcher", cfg.TracingEnabled, logger)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	nodeID := uuid.New().String()
	logger.Info("starting upkeep dispatcher", "node_id", nodeID, "storage", cfg.Storage)

	// 2. Root context and graceful shutdown
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel, logger)

	// 3. Storage
	recorder := events.NewRecorder(cfg.EventHistory)
	sink := events.Fanout{events.NewLogSink(logger), recorder}

	deps := usecase.Deps{
		Treasury: memory.NewLedger(),
	}
	var leaderManager domain.LeaderElectionManager
	var etcdClient *clientv3.Client
	keys := etcd.Keys{Prefix: cfg.KeyPrefix}

	switch cfg.Storage {
	case "etcd":
		etcdClient, err = etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			logger.Error("failed to create etcd client", "error", err)
			os.Exit(1)
		}
		defer etcdClient.Close()
		logger.Info("connected to etcd", "endpoints", cfg.EtcdEndpoints)

		deps.Registry = etcd.NewEtcdTargetRegistry(etcdClient, keys, logger)
		deps.States = etcd.NewEtcdStateStore(etcdClient, keys)
		deps.Rounds = etcd.NewEtcdRoundRepository(etcdClient, keys, logger)
		deps.Locker = etcd.NewEtcdLocker(etcdClient, keys)
		leaderManager = etcd.NewEtcdLeaderElectionManager(etcdClient, keys, nodeID, cfg.LeaderElectionTTL, logger)
		sink = append(sink, events.MetricsSink{})

		go etcd.NewTargetWatcher(etcdClient, keys, logger).Watch(rootCtx)
	default:
		deps.Registry = registry.NewSet()
		deps.States = memory.NewStateStore()
		deps.Rounds = memory.NewRoundRepository()
		sink = append(sink, events.MetricsSink{CountTargets: true})
	}
	deps.Sink = sink

	// 4. Refreshers per target kind
	grpcRefresher := rpc.NewGrpcRefresher(logger)
	defer grpcRefresher.Close()
	deps.Refreshers = map[domain.TargetKind]domain.Refresher{
		domain.TargetKindHTTP: http_infra.NewHttpRefresher(cfg.Dispatch.TargetTimeout, logger),
		domain.TargetKindGRPC: grpcRefresher,
	}

	// 5. Services
	upkeepService := usecase.NewUpkeepService(usecase.Settings{
		Owner:         cfg.Upkeep.Owner,
		Driver:        cfg.Upkeep.Driver,
		MinWaitPeriod: cfg.Upkeep.MinWaitPeriod,
		TargetTimeout: cfg.Dispatch.TargetTimeout,
		Concurrency:   cfg.Dispatch.Concurrency,
	}, deps, logger)
	if etcdClient != nil {
		go watchPaused(rootCtx, etcdClient, keys, upkeepService, logger)
	}

	if view, err := upkeepService.State(rootCtx); err != nil {
		logger.Warn("failed to read initial state", "error", err)
	} else {
		setPaused(view.Paused)
		logger.Info("dispatch state loaded", "driver", view.Driver, "last_run", view.LastRun, "next_due", view.NextDue)
	}

	cronTrigger, err := scheduler.NewCronTrigger(cfg.Upkeep.Schedule, cfg.Upkeep.Driver, upkeepService, logger)
	if err != nil {
		logger.Error("invalid upkeep schedule", "schedule", cfg.Upkeep.Schedule, "error", err)
		os.Exit(1)
	}
	schedulerService := usecase.NewSchedularService(leaderManager, cronTrigger, nodeID, logger)

	// 6. Routes and metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	http_api.NewHandler(upkeepService, recorder, logger, http_api.WithRateLimit(http_api.RateLimitConfig{
		RequestsPerMinute: cfg.DriverRateLimit,
		Burst:             cfg.DriverRateBurst,
	})).RegisterRoutes(mux)

	go func() {
		if err := schedulerService.Start(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler service stopped with error", "error", err)
			cancel()
		}
	}()

	// 7. HTTP API server
	server := &http.Server{
		Addr:              cfg.HttpListenAddr,
		Handler:           http_api.CorsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting HTTP API server", "addr", cfg.HttpListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// 8. Block until shutdown
	<-rootCtx.Done()
	logger.Info("shutting down dispatcher gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("dispatcher shut down")
}

func setPaused(paused bool) {
	if paused {
		metrics.Paused.Set(1)
	} else {
		metrics.Paused.Set(0)
	}
}

// watchPaused propagates pauses issued on other replicas to the local service,
// so a round in progress here stops starting new invocations.
func watchPaused(ctx context.Context, client *clientv3.Client, keys etcd.Keys, svc *usecase.UpkeepService, logger *slog.Logger) {
	for resp := range client.Watch(ctx, keys.State()) {
		for _, ev := range resp.Events {
			if ev.Type != clientv3.EventTypePut {
				continue
			}
			state, err := etcd.DecodeState(ev.Kv.Value)
			if err != nil {
				logger.Warn("failed to decode state update", "error", err)
				continue
			}
			svc.ObservePaused(state.Paused)
			setPaused(state.Paused)
		}
	}
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
