package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/dz-approval-bridge/internal/audit"
	"github.com/xela07ax/dz-approval-bridge/internal/catalog"
	"github.com/xela07ax/dz-approval-bridge/internal/console/handler"
	"github.com/xela07ax/dz-approval-bridge/internal/console/server"
	"github.com/xela07ax/dz-approval-bridge/internal/console/service"
	"github.com/xela07ax/dz-approval-bridge/internal/engine"
	"github.com/xela07ax/dz-approval-bridge/internal/infra"
	"github.com/xela07ax/dz-approval-bridge/internal/infra/auth"
	"github.com/xela07ax/dz-approval-bridge/internal/ledger"
	"github.com/xela07ax/dz-approval-bridge/internal/repository/postgres"
	"github.com/xela07ax/dz-approval-bridge/internal/subscription"
	"github.com/xela07ax/dz-approval-bridge/internal/workflow"
)

func main() {
	// 1. Конфиг и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ValidateConsole(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse auth public key", zap.Error(err))
	}

	// 2. Ресурсы
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	repo, err := postgres.NewAuditRepo(ctx, cfg.Database)
	if err != nil {
		cancel()
		logger.Fatal("database unreachable", zap.Error(err))
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		cancel()
		logger.Fatal("failed to prepare audit schema", zap.Error(err))
	}
	cancel()
	defer repo.Close()

	metrics := engine.NewMetrics(nil)
	recorder := audit.NewRecorder(repo, audit.Options{
		BufferSize:    cfg.Engine.AuditBufferSize,
		FlushInterval: cfg.Engine.AuditFlushInterval,
	}, logger)
	recorder.Start()
	defer recorder.Stop()

	// 3. Бэкенд и каталог
	client, err := workflow.New(cfg.Workflow, logger)
	if err != nil {
		logger.Fatal("failed to init workflow client", zap.Error(err))
	}
	projector, err := workflow.NewStatusProjector(cfg.Workflow.StatusMapping)
	if err != nil {
		logger.Fatal("invalid status mapping", zap.Error(err))
	}
	catalogClient := catalog.NewHTTPClient(cfg.Catalog, &http.Client{Timeout: cfg.Catalog.Timeout}, logger)

	// 4. Слои (Dependency Injection)
	exec := engine.NewExecutor(engine.ExecutorDeps{
		Client:    client,
		Fetcher:   subscription.NewFetcher(catalogClient, logger),
		Projector: projector,
		Ledger:    ledger.NewRedisLedger(rdb, cfg.Ledger.TTL, logger),
		Limiter:   rate.NewLimiter(rate.Limit(cfg.Engine.RequestsPerSecond), cfg.Engine.Burst),
		Approver:  cfg.Workflow.DefaultApprover,
		Metrics:   metrics,
	}, logger)
	// Решение по подписке меняется от имени отдельной роли
	changer := subscription.NewStatusChanger(catalogClient.WithRole(cfg.Catalog.ChangeRoleARN), logger)

	srv := server.NewConsoleServer(logger,
		auth.NewValidator(pubKey),
		handler.NewCommandHandler(service.NewCommandService(exec, recorder, client.Name(), logger)),
		handler.NewStatusHandler(changer),
		handler.NewAuditHandler(service.NewAuditService(repo)),
		handler.NewControlHandler(service.NewControlService(rdb, logger)),
	)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 5. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", httpSrv.Addr), zap.String("backend", client.Name()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console API stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console API exited properly")
}
