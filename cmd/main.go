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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/contract-ledger-service/internal/config"
	"github.com/tesseract-hub/contract-ledger-service/internal/database"
	"github.com/tesseract-hub/contract-ledger-service/internal/handlers"
	"github.com/tesseract-hub/contract-ledger-service/internal/metrics"
	"github.com/tesseract-hub/contract-ledger-service/internal/middleware"
	ledgerNats "github.com/tesseract-hub/contract-ledger-service/internal/nats"
	"github.com/tesseract-hub/contract-ledger-service/internal/repository"
	"github.com/tesseract-hub/contract-ledger-service/internal/scheduler"
	"github.com/tesseract-hub/contract-ledger-service/internal/services"
	"github.com/tesseract-hub/contract-ledger-service/internal/tenant"
)

const serviceName = "contract-ledger-service"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})
	level, err := logrus.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if !cfg.IsProduction() {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	redisClient := initRedis(cfg, logger)
	defer func() {
		if redisClient != nil {
			redisClient.Close()
		}
	}()

	tenantRegistry, err := tenant.NewRegistry(tenant.RegistryConfig{
		RegistryURL:   cfg.Tenant.RegistryURL,
		EncryptionKey: cfg.Tenant.EncryptionKey,
		CacheTTL:      time.Duration(cfg.Tenant.CacheTTL) * time.Second,
		RedisClient:   redisClient,
		Logger:        logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tenant registry")
	}
	logger.Info("Tenant registry initialized")

	dbManager := database.NewManager(database.ManagerConfig{
		Tenants:             tenantRegistry,
		Logger:              logger,
		MaxPools:            cfg.Pool.MaxDBPools,
		PoolCleanupInterval: time.Duration(cfg.Pool.CleanupInterval) * time.Second,
		HealthCheckInterval: time.Duration(cfg.Pool.HealthInterval) * time.Second,
		IdleTimeout:         time.Duration(cfg.Pool.IdleTimeout) * time.Second,
		ConnectionTimeout:   10 * time.Second,
		AutoMigrate:         cfg.Pool.AutoMigrate,
	})
	logger.Info("Tenant connection manager initialized")

	// Contract events are streamed best effort; the ledger works without NATS.
	var natsClient *ledgerNats.Client
	var publisher services.EventPublisher
	if cfg.NATS.Enabled {
		natsClient, err = ledgerNats.NewClient(ledgerNats.Config{
			URL:           cfg.NATS.URL,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: time.Duration(cfg.NATS.ReconnectWait) * time.Second,
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize NATS, contract event streaming disabled")
		} else {
			publisher = ledgerNats.NewPublisher(natsClient, logger)
			logger.Info("NATS client initialized for contract event streaming")
		}
	} else {
		logger.Info("NATS disabled, contract events are recorded in tenant databases only")
	}
	defer func() {
		if natsClient != nil {
			natsClient.Close()
		}
	}()

	ledgerMetrics := metrics.New(prometheus.DefaultRegisterer)
	ledgerMetrics.RegisterGauge("tenant_pools_active", "Number of open tenant database pools", func() float64 {
		return float64(dbManager.ActivePools())
	})

	contractService := services.NewContractService(services.ContractServiceConfig{
		Stores:           repository.NewTenantStoreResolver(dbManager),
		Publisher:        publisher,
		Observer:         ledgerMetrics,
		Logger:           logger,
		OperationTimeout: cfg.OperationTimeout(),
	})

	sweepCoordinator := services.NewSweepCoordinator(tenantRegistry, contractService, ledgerMetrics, logger, cfg.TenantSweepTimeout())

	sweepScheduler := scheduler.NewSweepScheduler(sweepCoordinator, cfg.Sweep, logger)
	if err := sweepScheduler.Start(); err != nil {
		logger.WithError(err).Warn("Failed to start sweep scheduler (continuing with HTTP trigger only)")
	}

	if cfg.Sweep.CronSecret == "" {
		logger.Warn("CRON_SECRET not set, the cron trigger will reject every call")
	}

	router := setupRouter(cfg, logger, ledgerMetrics,
		handlers.NewContractHandlers(contractService, logger),
		handlers.NewCronHandlers(sweepCoordinator, logger),
		handlers.NewInternalHandlers(dbManager, map[string]handlers.StatsSource{
			"database_manager": dbManager,
			"tenant_registry":  tenantRegistry,
			"sweep_scheduler":  sweepScheduler,
		}, logger),
	)

	server := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("address", cfg.GetServerAddress()).Info("Starting Contract Ledger Service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down Contract Ledger Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sweepScheduler.Stop()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	if err := dbManager.Close(); err != nil {
		logger.WithError(err).Error("Error closing database connections")
	} else {
		logger.Info("Database connections closed")
	}

	logger.Info("Contract ledger service stopped")
}

// initRedis initializes the Redis client
func initRedis(cfg *config.Config, logger *logrus.Logger) *redis.Client {
	if cfg.Redis.URL == "" {
		logger.Warn("Redis URL not configured, tenant cache will use local memory only")
		return nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.WithError(err).Warn("Failed to parse Redis URL, using local memory cache only")
		return nil
	}
	opt.MaxRetries = cfg.Redis.MaxRetries
	opt.PoolSize = cfg.Redis.PoolSize
	opt.MinIdleConns = cfg.Redis.MinIdleConns

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("Failed to connect to Redis, using local memory cache only")
		client.Close()
		return nil
	}

	logger.Info("Redis connection established")
	return client
}

// setupRouter configures the Gin router with middleware and routes
func setupRouter(
	cfg *config.Config,
	logger *logrus.Logger,
	ledgerMetrics *metrics.Metrics,
	contractHandlers *handlers.ContractHandlers,
	cronHandlers *handlers.CronHandlers,
	internalHandlers *handlers.InternalHandlers,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.SetupCORS(cfg.Server.AllowedOrigins))
	router.Use(ledgerMetrics.Middleware())

	// Health check endpoints
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "service": serviceName})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Internal endpoints (service mesh only)
	internal := router.Group("/internal")
	{
		internal.GET("/stats", internalHandlers.Stats)
		internal.DELETE("/tenants/:tenant_id/connection", internalHandlers.InvalidateTenant)
	}

	// Scheduled trigger, guarded by the shared cron secret
	router.POST("/cron/evaluate-contracts", middleware.CronSecret(cfg.Sweep.CronSecret, logger), cronHandlers.EvaluateContracts)

	// API routes - tenant scoped, acting user supplied by the gateway
	api := router.Group("/api/v1")
	api.Use(middleware.RequireTenantID())
	api.Use(middleware.RequireUserID())
	contractHandlers.RegisterRoutes(api)

	return router
}
