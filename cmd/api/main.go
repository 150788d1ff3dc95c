package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vitawell/vitawell-backend/api/controllers"
	"github.com/vitawell/vitawell-backend/api/routes"
	"github.com/vitawell/vitawell-backend/internal/accounts"
	"github.com/vitawell/vitawell-backend/internal/ledger"
	"github.com/vitawell/vitawell-backend/internal/matrix"
	"github.com/vitawell/vitawell-backend/internal/settlement"
	"github.com/vitawell/vitawell-backend/pkg/config"
	"github.com/vitawell/vitawell-backend/pkg/db"
	"github.com/vitawell/vitawell-backend/pkg/logger"
	"github.com/vitawell/vitawell-backend/pkg/migrate"
	"github.com/vitawell/vitawell-backend/pkg/outbox"
	"github.com/vitawell/vitawell-backend/pkg/outbox/idempotency"
	"github.com/vitawell/vitawell-backend/pkg/redis"
)

const (
	shutdownTimeout = 15 * time.Second

	// webhookDedupeTTL bounds how long a processed order event id blocks
	// duplicate deliveries.
	webhookDedupeTTL = 24 * time.Hour
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	accountsSvc, err := accounts.NewService(accounts.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create account service", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	matrixRepo := matrix.NewRepository(dbClient.DB())
	matrixSvc, err := matrix.NewService(matrixRepo, dbClient, outboxSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create matrix service", err)
		os.Exit(1)
	}

	settlementCfg, err := settlement.ParseConfig(cfg.Settlement)
	if err != nil {
		logg.Error(context.Background(), "failed to parse settlement config", err)
		os.Exit(1)
	}

	settlementSvc, err := settlement.NewService(settlement.ServiceParams{
		Config:   settlementCfg,
		Logger:   logg,
		Tx:       dbClient,
		Accounts: accountsSvc,
		Ledger:   ledgerSvc,
		Matrix:   matrixSvc,
		Legs:     matrixRepo,
		Outbox:   outboxSvc,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	webhookGuard, err := idempotency.NewManager(redisClient, webhookDedupeTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	router := routes.NewRouter(routes.Deps{
		Config:      cfg,
		Logger:      logg,
		RedisClient: redisClient,
		ReadinessChecks: []controllers.ReadinessCheck{
			{Name: "database", Pinger: dbClient},
			{Name: "redis", Pinger: redisClient},
		},
		MatrixService:     matrixSvc,
		LedgerService:     ledgerSvc,
		AccountsService:   accountsSvc,
		SettlementService: settlementSvc,
		WebhookGuard:      webhookGuard,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
