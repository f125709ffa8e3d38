package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"StableLedger/internal/config"
	"StableLedger/internal/core"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/observability"
	"StableLedger/internal/oracle"
	"StableLedger/internal/persistence"
	"StableLedger/internal/projection"
	"StableLedger/internal/query"
	"StableLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	inboundChanSize = 4096
	publishChanSize = 4096
	shutdownTimeout = 30 * time.Second
)

func main() {
	logger := observability.NewLogger("main")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}
	logger.Info().Msg("StableLedger starting")

	// ctx stops intake; workerCtx outlives it so the workers can drain.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}

	applied, err := persistence.NewMigrator(db, cfg.Migrations.Dir).Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	healthChecker.Register("postgres", db.PingContext)

	// --- Oracle ---
	authorities, err := cfg.OracleAuthorities()
	if err != nil {
		logger.Fatal().Err(err).Msg("oracle authorities")
	}
	gateway := oracle.NewGateway(authorities, cfg.Oracle.MaxStalenessSlots, cfg.Oracle.FeedID)

	// --- Channels ---
	// Persist blocks (backpressure); projection and publish drop.
	persistCoreChan := make(chan core.CoreOutput, cfg.Channels.PersistSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.Channels.ProjectionSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.Channels.PersistSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.Channels.ProjectionSize)
	publishChan := make(chan ingestion.PublishableEvent, publishChanSize)

	// --- Deterministic core + recovery ---
	deterministicCore := core.NewDeterministicCore(0, gateway, persistCoreChan, projectionCoreChan, metrics,
		core.WithLRUCapacity(cfg.Idempotency.LRUCapacity),
		core.WithLogger(observability.NewLogger("core")),
	)

	snapMgr := persistence.NewSnapshotManager(db)
	if _, err := recoverCore(ctx, deterministicCore, persistCoreChan, projectionCoreChan, snapMgr, metrics, logger); err != nil {
		logger.Fatal().Err(err).Msg("recovery failed")
	}

	// Durable dedup tiers join after replay. Redis answers first when configured.
	var flushObservers []persistence.FlushObserver
	if cfg.Redis.Addr != "" {
		redisClient, err := persistence.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connect")
		}
		defer redisClient.Close()

		redisTier := persistence.NewRedisIdempotencyChecker(redisClient, cfg.IdempotencyTTL())
		deterministicCore.AttachIdempotencyTier("redis", redisTier)
		flushObservers = append(flushObservers, redisTier)
		healthChecker.Register("redis", redisTier.Ping)
	}
	deterministicCore.AttachIdempotencyTier("postgres", persistence.NewPostgresIdempotencyChecker(db))

	admin := &adminService{
		db:        db,
		core:      deterministicCore,
		gateway:   gateway,
		snapshots: snapMgr,
		metrics:   metrics,
		logger:    observability.NewLogger("admin"),
	}
	queryService := query.NewQueryService(db)

	// Projections that missed events while the service was down are rebuilt
	// before any new write can race them.
	if err := catchUpProjections(ctx, queryService, snapMgr, admin); err != nil {
		logger.Error().Err(err).Msg("projection catch-up failed, read model may lag")
	}

	// --- Workers ---
	var workers sync.WaitGroup
	errChan := make(chan error, 10)

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.Persist.BatchSize, cfg.FlushTimeout(), metrics, flushObservers...)
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics)
	workers.Add(1)
	go func() {
		defer workers.Done()
		_ = projWorker.Run(workerCtx)
	}()

	bridgeLogger := observability.NewLogger("bridge")
	var bridges sync.WaitGroup
	bridges.Add(2)
	go func() {
		defer bridges.Done()
		runPersistBridge(persistCoreChan, persistWorkerChan, publishChan, metrics, bridgeLogger)
	}()
	go func() {
		defer bridges.Done()
		runProjectionBridge(projectionCoreChan, projectionWorkerChan, metrics)
	}()

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	healthChecker.Register("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("nats not connected")
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure inbound streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan)
	workers.Add(1)
	go func() {
		defer workers.Done()
		_ = outboundPublisher.Run(workerCtx)
	}()

	rawEventChan := make(chan ingestion.RawEvent, inboundChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}

	// --- Core loop: the only caller of ProcessEvent from here on ---
	requestChan := make(chan ingestion.Request, inboundChanSize)
	requestService := ingestion.NewRequestService(requestChan)
	coreLoop := ingestion.NewCoreLoop(deterministicCore, rawEventChan, requestChan, ingestion.DefaultSubjects(), metrics)
	coreLoopDone := make(chan struct{})
	go func() {
		defer close(coreLoopDone)
		coreLoop.Run(ctx)
	}()

	// --- gRPC + HTTP ---
	grpcServer, err := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		Requests:       requestService,
		Ledger:         deterministicCore,
		Projections:    queryService,
		Admin:          admin,
		HealthChecker:  healthChecker,
		Metrics:        metrics,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		TrustedProxies: cfg.Server.TrustedProxies,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build server")
	}
	go func() {
		if err := grpcServer.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.StartHTTPGateway(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	// --- Metrics ---
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			_ = metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	go runPeriodicSnapshots(ctx, deterministicCore, snapMgr, cfg.Snapshot.Interval, metrics, observability.NewLogger("snapshot"))
	go runChannelSampler(ctx, metrics, []sampledChannel{
		{name: "persist", size: func() int { return len(persistCoreChan) }, capacity: cap(persistCoreChan)},
		{name: "projection", size: func() int { return len(projectionCoreChan) }, capacity: cap(projectionCoreChan)},
		{name: "publish", size: func() int { return len(publishChan) }, capacity: cap(publishChan)},
		{name: "inbound", size: func() int { return len(rawEventChan) }, capacity: cap(rawEventChan)},
		{name: "requests", size: func() int { return len(requestChan) }, capacity: cap(requestChan)},
	})

	healthChecker.SetReady(true)
	logger.Info().
		Int64("next_sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("StableLedger ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, let the core go quiet, snapshot, then drain the workers.
	healthChecker.SetReady(false)
	cancel()
	natsSubscriber.Stop()
	<-coreLoopDone

	close(persistCoreChan)
	close(projectionCoreChan)
	bridges.Wait()

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(shutdownTimeout):
		logger.Error().Msg("workers did not drain in time")
		workerCancel()
		<-drained
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if seq, err := takeSnapshot(shutdownCtx, deterministicCore, snapMgr, metrics); err != nil && !errors.Is(err, errEmptyLedger) {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else if err == nil {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	logger.Info().Msg("StableLedger shutdown complete")
}

// catchUpProjections rebuilds the read model when its watermark trails the log.
func catchUpProjections(ctx context.Context, qs *query.QueryService, snapshots *persistence.SnapshotManager, admin *adminService) error {
	watermark, err := qs.Watermark(ctx)
	if err != nil {
		return err
	}
	persisted, err := snapshots.GetLatestSequence(ctx)
	if err != nil {
		return err
	}
	if watermark >= persisted {
		return nil
	}
	logger := observability.NewLogger("projection")
	logger.Info().
		Int64("watermark", watermark).
		Int64("persisted", persisted).
		Msg("projections behind the log, rebuilding")
	return admin.RebuildProjections(ctx)
}
