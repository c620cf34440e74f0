package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-pacer/internal/audit"
	"github.com/xela07ax/spaceai-pacer/internal/connectors"
	"github.com/xela07ax/spaceai-pacer/internal/console/handler"
	"github.com/xela07ax/spaceai-pacer/internal/console/server"
	"github.com/xela07ax/spaceai-pacer/internal/engine"
	"github.com/xela07ax/spaceai-pacer/internal/infra"
	"github.com/xela07ax/spaceai-pacer/internal/infra/auth"
	"github.com/xela07ax/spaceai-pacer/internal/repository/postgres"
	"github.com/xela07ax/spaceai-pacer/internal/repository/redisrepo"
	"github.com/xela07ax/spaceai-pacer/internal/risk"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("pacer stopped with error", zap.Error(err))
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 2. Хранилища аудита: Postgres и/или Redis, пишем во все сразу
	var sinks audit.Fanout
	var stats handler.StatsReader

	if cfg.Database.URL != "" {
		repo, err := postgres.NewAuditRepo(cfg.Database.URL, int(cfg.Database.MaxConns), int(cfg.Database.MinConns))
		if err != nil {
			return err
		}
		defer repo.Close()

		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		err = repo.Ping(pingCtx)
		if err == nil {
			err = repo.Migrate(pingCtx)
		}
		pingCancel()
		if err != nil {
			return fmt.Errorf("database unreachable: %w", err)
		}
		sinks = append(sinks, repo)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
		statsRepo := redisrepo.NewStatsRepo(rdb)
		sinks = append(sinks, statsRepo)
		stats = statsRepo
	}

	var auditor audit.Auditor = audit.Nop{}
	if len(sinks) > 0 {
		agentFS := audit.NewAgentFS(sinks, logger,
			audit.WithBufferSize(cfg.Engine.AuditBufferSize),
			audit.WithFlushInterval(cfg.Engine.AuditFlushInterval),
			audit.WithFillGauge(metrics.AuditBufferFill),
		)
		agentFS.Start()
		// Stop в defer: финальный flush после остановки HTTP
		defer agentFS.Stop()
		auditor = agentFS
	} else {
		logger.Warn("no audit storage configured, policy events are discarded")
	}

	// 3. Движок темпа
	pacer := engine.NewPacer(cfg.Engine.BaseProfile,
		engine.WithAuditor(auditor),
		engine.WithMetrics(metrics),
		engine.WithLogger(logger),
		engine.WithSweep(cfg.Engine.SweepInterval, cfg.Engine.IdleTTL),
	)

	// 4. Execution Layer (Исполнение + Надежность)
	var executor connectors.Executor
	var closeBrowser func(string)
	switch cfg.Engine.Executor {
	case infra.ExecutorPlaywright:
		pw := connectors.NewPlaywrightConnector(cfg.Engine.BrowserHeadless, cfg.Engine.CallTimeout, logger, nil)
		if err := pw.Start(); err != nil {
			return err
		}
		defer func() {
			if err := pw.Stop(); err != nil {
				logger.Error("failed to stop browser", zap.Error(err))
			}
		}()
		executor = pw
		closeBrowser = pw.CloseSession
	default:
		executor = &connectors.MockSiteConnector{MaxLatency: 200 * time.Millisecond}
	}

	safeExecutor := engine.NewReliabilityWrapper(executor, engine.ReliabilityConfig{
		Name:                  cfg.Engine.Executor,
		GlobalRPS:             cfg.Engine.GlobalRPS,
		GlobalBurst:           cfg.Engine.GlobalBurst,
		CallTimeout:           cfg.Engine.CallTimeout,
		CBMaxRequests:         cfg.Engine.CBMaxRequests,
		CBInterval:            cfg.Engine.CBInterval,
		CBTimeout:             cfg.Engine.CBTimeout,
		CBConsecutiveFailures: cfg.Engine.CBConsecutiveFailures,
	}, metrics, logger)

	gateway := engine.NewGateway(pacer, safeExecutor, auditor,
		engine.WithMaxAttempts(cfg.Engine.MaxAttempts),
		engine.WithClassifier(risk.NewAnalyzer(cfg.Engine.Sensitive, logger)),
		engine.WithGatewayLogger(logger),
	)

	// 5. Control Plane: сигналы из Redis
	var onClosed []func(string)
	if closeBrowser != nil {
		onClosed = append(onClosed, closeBrowser)
	}
	if rdb != nil {
		go engine.ListenSignals(appCtx, rdb, logger, pacer, onClosed...)
	}

	// 6. HTTP API
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			return err
		}
		validator = auth.NewBaseValidator(pub,
			auth.WithIssuer(cfg.Auth.Issuer),
			auth.WithLeeway(cfg.Auth.Leeway),
		)
	} else {
		logger.Warn("auth public key is not configured, control API is unauthenticated")
	}

	sessions := handler.NewSessionHandler(pacer, stats, logger)
	for _, fn := range onClosed {
		sessions.OnClose(fn)
	}
	api := server.NewPacerServer(logger, validator, reg,
		handler.NewActionHandler(pacer, gateway, logger),
		sessions,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pacer started", zap.String("addr", srv.Addr), zap.String("executor", cfg.Engine.Executor))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("pacer stopping...")
	cancel()

	// Даем запросам, стоящим в паузе движка, время завершиться
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("pacer exited properly")
	return nil
}
