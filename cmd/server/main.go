package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/trustwork/escrow-engine/internal/config"
	"github.com/trustwork/escrow-engine/internal/db"
	"github.com/trustwork/escrow-engine/internal/logger"
	"github.com/trustwork/escrow-engine/internal/oracle"
	"github.com/trustwork/escrow-engine/internal/pkg/lockmgr"
	"github.com/trustwork/escrow-engine/internal/rail"
	"github.com/trustwork/escrow-engine/internal/repository"
	"github.com/trustwork/escrow-engine/internal/service"
)

// Engine собирает сервисы движка жизненного цикла контрактов в один узел.
// Транспортный слой подключается поверх отдельно, ядро о нём не знает.
type Engine struct {
	Contracts     *service.ContractService
	Milestones    *service.MilestoneService
	Escrow        *service.EscrowService
	Disputes      *service.DisputeService
	Trust         *service.TrustService
	Tiers         *service.TierService
	Reviews       *service.ReviewService
	Notifications *service.NotificationService
}

// Services перечисляет собранные сервисы; используется в логе готовности.
func (e *Engine) Services() []string {
	names := make([]string, 0, 8)
	for _, s := range []struct {
		name string
		ok   bool
	}{
		{"contracts", e.Contracts != nil},
		{"milestones", e.Milestones != nil},
		{"escrow", e.Escrow != nil},
		{"disputes", e.Disputes != nil},
		{"trust", e.Trust != nil},
		{"tiers", e.Tiers != nil},
		{"reviews", e.Reviews != nil},
		{"notifications", e.Notifications != nil},
	} {
		if s.ok {
			names = append(names, s.name)
		}
	}
	return names
}

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init(cfg.LogLevel)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Движок удерживается до остановки: транспортный слой подключается к нему
	// извне, ядро отдаёт только собранные сервисы.
	engine := buildEngine(cfg, dbConn)

	logger.Log.WithFields(logrus.Fields{
		"env":      cfg.Env,
		"services": engine.Services(),
	}).Info("main: движок эскроу запущен")

	<-ctx.Done()
	logger.Log.Info("main: получен сигнал остановки, завершаем работу")
}

// buildEngine связывает репозитории, внешние клиенты и сервисы.
func buildEngine(cfg *config.Config, dbConn *sqlx.DB) *Engine {
	// Репозитории.
	contractRepo := repository.NewContractRepository(dbConn)
	milestoneRepo := repository.NewMilestoneRepository(dbConn)
	escrowRepo := repository.NewEscrowRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)
	reviewRepo := repository.NewReviewRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Внешние клиенты.
	railClient := rail.NewClient(cfg.RailBaseURL, cfg.RailAPIKey, cfg.RailTimeout)

	var riskOracle service.RiskOracle
	if cfg.OracleBaseURL != "" {
		riskOracle = oracle.NewClient(cfg.OracleBaseURL, cfg.OracleTimeout)
	}

	// Анти-абьюз лимит на открытие споров.
	disputeLimiter := limiter.New(memory.NewStore(), limiter.Rate{
		Period: cfg.DisputeRatePeriod,
		Limit:  cfg.DisputeRateLimit,
	})

	locks := lockmgr.New()
	txManager := repository.NewTxManager(dbConn)

	// Сервисы.
	notificationService := service.NewNotificationService(notificationRepo)
	contractService := service.NewContractService(contractRepo, escrowRepo, railClient, txManager, locks, notificationService)
	milestoneService := service.NewMilestoneService(milestoneRepo, contractRepo, escrowRepo, locks, notificationService)
	escrowService := service.NewEscrowService(escrowRepo, milestoneRepo, contractRepo, railClient, locks, notificationService)
	disputeService := service.NewDisputeService(disputeRepo, contractRepo, milestoneRepo, escrowRepo, railClient, txManager, locks, notificationService, disputeLimiter)
	trustService := service.NewTrustService(contractRepo, milestoneRepo, escrowRepo, disputeRepo, reviewRepo, riskOracle, cfg.ReleaseOnTimeWindow)
	tierService := service.NewTierService(trustService)
	reviewService := service.NewReviewService(reviewRepo, contractRepo)

	return &Engine{
		Contracts:     contractService,
		Milestones:    milestoneService,
		Escrow:        escrowService,
		Disputes:      disputeService,
		Trust:         trustService,
		Tiers:         tierService,
		Reviews:       reviewService,
		Notifications: notificationService,
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
