package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xxz807/finscale/consume/internal/consume/adapter/client"
	"github.com/xxz807/finscale/consume/internal/consume/adapter/repo"
	"github.com/xxz807/finscale/consume/internal/consume/api"
	"github.com/xxz807/finscale/consume/internal/consume/calculator"
	"github.com/xxz807/finscale/consume/internal/consume/service"
	"github.com/xxz807/finscale/consume/internal/platform/config"
	"github.com/xxz807/finscale/consume/internal/platform/database"
	"github.com/xxz807/finscale/consume/internal/platform/logger"
)

// app 进程内的全部依赖
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *gorm.DB
	registry *prometheus.Registry

	ledger  *service.CompensationLedger
	engine  *service.ConsumeEngine
	subsidy *service.SubsidyService
	handler *api.ConsumeHandler
}

func newApp(configPath string) (*app, error) {
	// 1. 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// 2. 初始化基础设施 (Infra)
	appLogger, err := logger.NewLogger(cfg.Server.Mode)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(registry)

	// 3. 依赖注入 (Wiring)
	// -- Consume Module --
	accounts := service.NewAccountStore(repo.NewAccountRepo(db))
	directory := client.NewTimeoutDirectory(repo.NewDirectoryRepo(db), cfg.Consume.LookupTimeout)

	ledger := service.NewCompensationLedger(db, repo.NewCompensationRepo(db), accounts, appLogger,
		service.WithLedgerMetrics(metrics),
		service.WithSweepBatchSize(cfg.Compensation.BatchSize),
	)

	engineOpts := []service.EngineOption{
		service.WithEngineMetrics(metrics),
		service.WithRetryPolicy(cfg.Consume.RetryAttempts, cfg.Consume.RetryBackoff),
	}
	if cfg.Consume.UserServiceURL != "" {
		engineOpts = append(engineOpts, service.WithUserDirectory(
			client.NewHTTPUserDirectory(cfg.Consume.UserServiceURL, cfg.Consume.LookupTimeout)))
	}
	engine := service.NewConsumeEngine(accounts, repo.NewTransactionRepo(db), directory,
		calculator.NewDefaultFactory(directory, directory), ledger, appLogger, engineOpts...)

	if cfg.Subsidy.GatewayURL == "" {
		appLogger.Warn("subsidy gateway url not configured, every grant will fall back to compensation")
	}
	subsidy := service.NewSubsidyService(
		client.NewHTTPSubsidyGateway(cfg.Subsidy.GatewayURL, cfg.Subsidy.Timeout),
		ledger, cfg.Subsidy.Timeout, appLogger)

	return &app{
		cfg:      cfg,
		logger:   appLogger,
		db:       db,
		registry: registry,
		ledger:   ledger,
		engine:   engine,
		subsidy:  subsidy,
		handler:  api.NewConsumeHandler(engine, ledger, subsidy, appLogger),
	}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
