package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custodial-wallet-service/config"
	"custodial-wallet-service/handlers"
	"custodial-wallet-service/ledger/lnd"
	"custodial-wallet-service/middleware"
	"custodial-wallet-service/services"
	"custodial-wallet-service/store"
	"custodial-wallet-service/store/gormstore"
	"custodial-wallet-service/store/memstore"
	"custodial-wallet-service/utils"
	"custodial-wallet-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"
)

func main() {
	envErr := godotenv.Load()

	logger, _ := zap.NewProduction()
	if os.Getenv("APP_ENV") == "dev" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Info("⚠️  No .env file found, reading environment variables directly")
	}

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}

	secrets, err := secretSource(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize secret source", zap.Error(err))
	}

	provider := lnd.NewProvider(lnd.ProviderConfig{
		Host:    cfg.LND.Host,
		Port:    cfg.LND.Port,
		Timeout: cfg.LND.Timeout,
		Keys: lnd.SecretKeys{
			Macaroon: cfg.LND.MacaroonKey,
			TLSCert:  cfg.LND.TLSCertKey,
			Password: cfg.LND.PasswordKey,
		},
	}, secrets, logger.Named("lnd"))

	clk := clock.NewDefaultClock()

	engine := services.NewSyncEngine(st, provider, services.SyncConfig{
		BatchSize:       cfg.Sync.BatchSize,
		ClassifyWorkers: cfg.Sync.ClassifyWorkers,
	}, clk, logger.Named("sync"))
	aggregator := services.NewBalanceAggregator(st, clk, logger.Named("aggregator"))
	walletService := services.NewWalletService(st, provider, clk, logger.Named("wallets"))
	paymentService := services.NewPaymentService(st, provider, cfg.Params, services.PaymentLimits{
		MinAmount:      cfg.Payments.MinAmount,
		MinFeeRate:     cfg.Payments.MinFeeRate,
		TransferMargin: cfg.Payments.TransferMargin,
		AvgTxVBytes:    cfg.Payments.AvgTxVBytes,
	}, clk, logger.Named("payments"))
	nodeService := services.NewNodeService(provider, logger.Named("node"))

	aggregationWorker := workers.NewAggregationWorker(st, aggregator, workers.QueueConfig{
		Workers:      cfg.Aggregator.Workers,
		MaxAttempts:  cfg.Aggregator.MaxAttempts,
		RetryBackoff: cfg.Aggregator.RetryBackoff,
	}, clk, logger.Named("aggregation"))
	aggregationWorker.Start(ctx)
	if err := aggregationWorker.Backfill(ctx); err != nil {
		logger.Error("aggregation backfill failed", zap.Error(err))
	}

	syncWorker := workers.NewLedgerSyncWorker(engine, cfg.Sync.Interval, logger.Named("sync_worker"))
	if err := syncWorker.Start(ctx); err != nil {
		logger.Fatal("failed to start ledger sync worker", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: !cfg.Dev(),
		Immutable:             true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(fiber.Map{"error": "http_error", "message": fe.Message})
			}
			return utils.RespondError(c, err)
		},
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed, no exceptions
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken, logger.Named("http")))

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupMetricsRoutes(app)
	handlers.SetupSyncRoutes(app, engine, logger.Named("http"))
	handlers.SetupNodeRoutes(app, nodeService, logger.Named("http"))
	handlers.SetupWalletRoutes(app, walletService, paymentService, logger.Named("http"))

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("✅ Server running",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("network", cfg.Network),
		zap.Duration("sync_interval", cfg.Sync.Interval),
	)

	<-ctx.Done()
	logger.Info("Shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}

func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn("⚠️  using in-memory store, data is lost on restart")
		return memstore.New(memstore.Options{
			MaxWriteOps: cfg.Store.MaxWriteOps,
			TxAttempts:  cfg.Store.TxAttempts,
		}), nil
	}

	st, err := gormstore.Open(cfg.Store.DatabaseURL, gormstore.Options{
		MaxWriteOps:  cfg.Store.MaxWriteOps,
		TxAttempts:   cfg.Store.TxAttempts,
		RetryBackoff: cfg.Store.RetryBackoff,
	}, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(); err != nil {
		return nil, err
	}
	return st, nil
}

func secretSource(ctx context.Context, cfg *config.Config) (utils.SecretSource, error) {
	if cfg.LND.SecretsSource == "r2" {
		return utils.NewR2SecretStore(ctx, utils.R2Config{
			AccountID:       cfg.R2.AccountID,
			AccessKeyID:     cfg.R2.AccessKeyID,
			AccessKeySecret: cfg.R2.AccessKeySecret,
			Bucket:          cfg.R2.Bucket,
		})
	}
	return utils.EnvSecretSource{}, nil
}
