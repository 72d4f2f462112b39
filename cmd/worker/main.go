package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/xela07ax/dz-approval-bridge/internal/audit"
	"github.com/xela07ax/dz-approval-bridge/internal/callback"
	"github.com/xela07ax/dz-approval-bridge/internal/catalog"
	"github.com/xela07ax/dz-approval-bridge/internal/engine"
	"github.com/xela07ax/dz-approval-bridge/internal/infra"
	"github.com/xela07ax/dz-approval-bridge/internal/ledger"
	"github.com/xela07ax/dz-approval-bridge/internal/queue"
	"github.com/xela07ax/dz-approval-bridge/internal/repository/postgres"
	"github.com/xela07ax/dz-approval-bridge/internal/subscription"
	"github.com/xela07ax/dz-approval-bridge/internal/workflow"
)

func main() {
	// 1. Конфиг и логгер. Любая ошибка здесь — выход до чтения очереди.
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	auditor, stopAudit := startAudit(appCtx, cfg, metrics, logger)
	defer stopAudit()

	// 3. Бэкенд и каталог
	client, err := workflow.New(cfg.Workflow, logger, workflow.WithStateChange(metrics.OnBreakerStateChange))
	if err != nil {
		logger.Fatal("failed to init workflow client", zap.Error(err))
	}
	projector, err := workflow.NewStatusProjector(cfg.Workflow.StatusMapping)
	if err != nil {
		logger.Fatal("invalid status mapping", zap.Error(err))
	}
	catalogClient := catalog.NewHTTPClient(cfg.Catalog, &http.Client{Timeout: cfg.Catalog.Timeout}, logger)

	// 4. Ядро
	exec := engine.NewExecutor(engine.ExecutorDeps{
		Client:    client,
		Fetcher:   subscription.NewFetcher(catalogClient, logger),
		Projector: projector,
		Ledger:    ledger.NewRedisLedger(rdb, cfg.Ledger.TTL, logger),
		Limiter:   rate.NewLimiter(rate.Limit(cfg.Engine.RequestsPerSecond), cfg.Engine.Burst),
		Approver:  cfg.Workflow.DefaultApprover,
		Metrics:   metrics,
	}, logger)
	dispatcher := callback.NewRedisDispatcher(rdb, metrics.CallbackFailures, logger)
	processor := engine.NewProcessor(exec, dispatcher, auditor, metrics, logger)
	pause := queue.NewPauseSwitch(rdb, cfg.Queue.Group, logger)
	if err := pause.Init(appCtx); err != nil {
		logger.Fatal("failed to load queue pause state", zap.Error(err))
	}
	go pause.StartListener(appCtx)
	consumer := queue.NewConsumer(rdb, cfg.Queue, processor, auditor, metrics.DeadLettered, logger).WithPause(pause)

	// 5. Метрики и health
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			logger.Fatal("failed to listen gRPC", zap.String("addr", cfg.GRPC.Addr), zap.Error(err))
		}
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("gRPC health server stopped", zap.Error(err))
		}
	}()

	// 6. Цикл очереди
	done := make(chan struct{})
	go func() {
		defer close(done)
		consumer.Run(appCtx)
	}()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	logger.Info("worker started",
		zap.String("backend", client.Name()),
		zap.String("stream", cfg.Queue.Stream),
		zap.String("metrics", cfg.Metrics.Addr),
		zap.String("grpc", cfg.GRPC.Addr))

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("worker stopping")

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	// Отмена прерывает текущий вызов бэкенда: сообщение не подтверждается и вернется в очередь.
	// Исход, полученный до отмены, доходит до колбэка и леджера.
	cancel()
	select {
	case <-done:
	case <-time.After(cfg.Workflow.Jira.Timeout + 5*time.Second):
		logger.Warn("consumer did not stop in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	logger.Info("worker exited properly")
}

// startAudit: без database.url журнал исходов выключен.
func startAudit(ctx context.Context, cfg *infra.Config, metrics *engine.Metrics, logger *zap.Logger) (audit.Auditor, func()) {
	if cfg.Database.URL == "" {
		logger.Warn("database.url is not set, outcome audit is disabled")
		return audit.Discard{}, func() {}
	}

	repo, err := postgres.NewAuditRepo(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to prepare audit schema", zap.Error(err))
	}

	rec := audit.NewRecorder(repo, audit.Options{
		BufferSize:    cfg.Engine.AuditBufferSize,
		FlushInterval: cfg.Engine.AuditFlushInterval,
		BufferFill:    metrics.AuditBufferFill,
	}, logger)
	rec.Start()

	return rec, func() {
		rec.Stop()
		repo.Close()
	}
}
