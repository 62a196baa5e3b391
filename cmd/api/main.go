package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custodial-wallet-pool/config"
	"custodial-wallet-pool/internal/adapter/chain"
	httpHandler "custodial-wallet-pool/internal/adapter/http/handler"
	pgStorage "custodial-wallet-pool/internal/adapter/storage/postgres"
	redisStorage "custodial-wallet-pool/internal/adapter/storage/redis"
	"custodial-wallet-pool/internal/core/ports"
	"custodial-wallet-pool/internal/service"
	"custodial-wallet-pool/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Custodial Wallet Pool")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Initialize repositories
	walletRepo := pgStorage.NewWalletPoolRepo(pool)
	sessionRepo := pgStorage.NewSessionRepo(pool)
	transactor := pgStorage.NewTransactor(pool)
	statusCache := redisStorage.NewStatusCache(rdb)

	// Initialize core services
	vault, err := service.NewAESKeyVault(cfg.Vault.MasterKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize key vault")
	}
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Chain gateway client
	chainClient := chain.NewClient(cfg.Chain.GatewayURL, cfg.Chain.RequestTimeout)

	tolerance, err := cfg.Monitor.ToleranceDecimal()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid monitor tolerance")
	}
	networkFee, err := cfg.Recovery.NetworkFeeDecimal()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid recovery network fee")
	}

	// Completion callback delivery
	notifier := service.NewWebhookNotifier(
		cfg.Notifier.URL,
		cfg.Notifier.Secret,
		sigSvc,
		&http.Client{Timeout: 10 * time.Second},
		logger.Component(log, "notifier"),
	)

	// Session watchers
	monitor := service.NewChainMonitor(
		walletRepo,
		sessionRepo,
		chainClient,
		notifier.Notify,
		service.MonitorOptions{
			PollInterval:     cfg.Monitor.PollInterval,
			MaxAttempts:      cfg.Monitor.MaxAttempts,
			Tolerance:        tolerance,
			ErrorThreshold:   cfg.Monitor.ErrorThreshold,
			DegradedInterval: cfg.Monitor.DegradedInterval,
		},
		logger.Component(log, "monitor"),
	)

	// Business services
	poolSvc := service.NewPoolService(
		walletRepo,
		sessionRepo,
		transactor,
		vault,
		monitor,
		statusCache,
		cfg.Monitor.PaymentWindow(),
		logger.Component(log, "pool"),
	)
	recoverySvc := service.NewRecoveryService(
		walletRepo,
		vault,
		chainClient,
		networkFee,
		cfg.Recovery.ConfirmAttempts,
		cfg.Recovery.ConfirmInterval,
		logger.Component(log, "recovery"),
	)

	// Restart watchers for sessions that were pending before the last restart
	if err := monitor.Resume(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to resume pending session watchers")
	}

	// Health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		PoolSvc:        poolSvc,
		RecoverySvc:    recoverySvc,
		TokenSvc:       tokenSvc,
		AdminKey:       cfg.Admin.APIKey,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         logger.Component(log, "http"),
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown: stop accepting requests, then stop the watchers.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	monitor.Stop()
	log.Info().Int("active_watchers", monitor.ActiveWatchers()).Msg("Session watchers stopped")

	notifier.Stop()
	log.Info().Msg("Webhook deliveries drained")

	log.Info().Msg("Server exited")
}
