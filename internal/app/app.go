package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	backorderv1 "github.com/vladislavdragonenkov/backorders/api/backorder/v1"
	"github.com/vladislavdragonenkov/backorders/internal/cache"
	healthcheck "github.com/vladislavdragonenkov/backorders/internal/health"
	"github.com/vladislavdragonenkov/backorders/internal/metrics"
	"github.com/vladislavdragonenkov/backorders/internal/notify"
	"github.com/vladislavdragonenkov/backorders/internal/resilience"
	"github.com/vladislavdragonenkov/backorders/internal/service/backorder"
	grpcsvc "github.com/vladislavdragonenkov/backorders/internal/service/grpc"
	"github.com/vladislavdragonenkov/backorders/internal/service/idempotency"
	"github.com/vladislavdragonenkov/backorders/internal/service/outbox"
	"github.com/vladislavdragonenkov/backorders/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает gRPC API, HTTP-метрики и фоновые воркеры и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer deps.close(logger)

	m := metrics.NewBackorderMetrics()
	breaker := resilience.NewBreaker(cfg.BreakerConfig(), logger.WithField("layer", "resilience"),
		func(name string, _, to gobreaker.State) { m.SetBreakerState(name, int(to)) })
	querier := resilience.NewGuardedQuerier(deps.records, breaker)

	counts, closeCounts := initCountsCache(ctx, cfg, logger.WithField("layer", "cache"))
	defer closeCounts()

	bus := notify.NewBus(logger.WithField("layer", "notify"))
	defer bus.Close()

	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger.WithField("layer", "kafka"))
	defer closeKafkaProducer(kafkaProducer, logger)

	mutations := backorder.New(deps.records, deps.customers, deps.products, deps.audit,
		backorder.WithOutbox(deps.outboxRepo),
		backorder.WithJournal(deps.journal),
		backorder.WithChanges(bus),
		backorder.WithMetrics(m),
		backorder.WithLogger(logger.WithField("layer", "backorder")),
	)
	service := grpcsvc.NewBackorderService(mutations, querier, deps.customers, deps.products,
		grpcsvc.WithIdempotency(deps.idempotencyRepo, cfg.IdempotencyTTL),
		grpcsvc.WithCountsCache(counts),
		grpcsvc.WithCalendar(cfg.Calendar()),
		grpcsvc.WithMetrics(m),
		grpcsvc.WithLogger(logger.WithField("layer", "grpc")),
	)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	publisher, dlqPublisher := outboxPublishers(kafkaProducer, cfg, logger)
	outboxDone := startWorker(func() {
		outbox.NewWorker(deps.outboxRepo, publisher,
			outbox.WithDLQPublisher(dlqPublisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
		).Run(workersCtx)
	})
	cleanupDone := startWorker(func() {
		idempotency.NewClaimReaper(deps.idempotencyRepo,
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
			idempotency.WithAbandonLease(cfg.IdempotencyAbandonLease),
			idempotency.WithLogger(logger.WithField("layer", "idempotency")),
		).Run(workersCtx)
	})
	invalidateDone := startWorker(func() { invalidateOnChange(workersCtx, bus, counts) })
	defer func() {
		stopWorkers()
		waitWorkers(logger, outboxDone, cleanupDone, invalidateDone)
	}()

	consumer, err := initChangeFeed(workersCtx, cfg, kafkaProducer, bus, logger.WithField("layer", "kafka"))
	if err != nil {
		logger.WithError(err).Warn("change feed is disabled")
	}
	defer stopConsumer(consumer, logger)

	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	backorderv1.RegisterBackorderServiceServer(grpcServer, service)
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(backorderv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if redisCache, ok := counts.(*cache.RedisStatusCountCache); ok {
		healthHandler.RegisterChecker("redis", healthcheck.NewOptional("redis", redisCache.Ping))
	}
	healthHandler.RegisterChecker("query_breaker", healthcheck.NewOptional("query_breaker", func(context.Context) error {
		if breaker.State() == gobreaker.StateOpen {
			return resilience.ErrCircuitOpen
		}
		return nil
	}))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// initCountsCache выбирает Redis, если он задан, иначе кэш в памяти процесса.
func initCountsCache(ctx context.Context, cfg Config, logger *log.Entry) (cache.StatusCountCache, func()) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryStatusCountCache(cfg.CountsCacheTTL), func() {}
	}
	redisCache := cache.DialRedis(ctx, cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.CountsCacheTTL,
	}, logger)
	return redisCache, func() {
		if err := redisCache.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis")
		}
	}
}

// invalidateOnChange сбрасывает кэш счётчиков на каждое изменение записи,
// включая изменения других реплик, пришедшие из change feed.
func invalidateOnChange(ctx context.Context, bus *notify.Bus, counts cache.StatusCountCache) {
	sub := bus.Subscribe()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C():
			if !ok {
				return
			}
			counts.Invalidate(ctx)
		}
	}
}

func startWorker(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

// waitWorkers ждёт остановки воркеров не дольше shutdownTimeout.
func waitWorkers(logger *log.Entry, done ...<-chan struct{}) {
	timeout := time.NewTimer(shutdownTimeout)
	defer timeout.Stop()
	for _, ch := range done {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-timeout.C:
			logger.Warn("background workers did not stop in time")
			return
		}
	}
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчики /metrics и проверок здоровья.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
