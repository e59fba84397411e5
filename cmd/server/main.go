package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	appfinance "github.com/tradeledger/backend/internal/application/finance"
	"github.com/tradeledger/backend/internal/domain/finance"
	"github.com/tradeledger/backend/internal/infrastructure/config"
	"github.com/tradeledger/backend/internal/infrastructure/event"
	"github.com/tradeledger/backend/internal/infrastructure/lock"
	"github.com/tradeledger/backend/internal/infrastructure/logger"
	"github.com/tradeledger/backend/internal/infrastructure/migration"
	"github.com/tradeledger/backend/internal/infrastructure/persistence"
	"github.com/tradeledger/backend/internal/infrastructure/storage"
	"github.com/tradeledger/backend/internal/infrastructure/telemetry"
	"github.com/tradeledger/backend/internal/interfaces/http/handler"
	"github.com/tradeledger/backend/internal/interfaces/http/middleware"
	"github.com/tradeledger/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	bootLog, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	// Logs bridge first, so the final logger can tee into it
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize logs exporter", zap.Error(err))
	}

	var extraCores []zapcore.Core
	if loggerProvider.IsEnabled() {
		extraCores = append(extraCores, telemetry.NewZapOTELCore(cfg.Telemetry.ServiceName, loggerProvider, logger.ParseLevel(cfg.Log.Level)))
	}
	log, err := logger.NewWithCores(logCfg, extraCores...)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting ledger server",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", cfg.App.Version),
	)

	// Profiling starts before tracing so span profiles can wrap the tracer provider
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Profiling.Enabled,
		ServerAddress:     cfg.Profiling.ServerAddress,
		ApplicationName:   cfg.Profiling.ApplicationName,
		BasicAuthUser:     cfg.Profiling.BasicAuthUser,
		BasicAuthPassword: cfg.Profiling.BasicAuthPassword,
		ProfileCPU:        true,
		ProfileAllocSpace: true,
		ProfileInuseSpace: true,
		ProfileGoroutines: true,
		ProfileMutexCount: true,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if cfg.Profiling.Enabled && cfg.Profiling.SpanProfiles && tracerProvider.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
		logger.WithParameterizedQueries(!cfg.Telemetry.DBLogFullSQL))
	dbOpts := []persistence.DatabaseOption{persistence.WithGormLogger(gormLog)}
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		dbOpts = append(dbOpts, persistence.WithTracing(cfg.Database.DBName, cfg.Telemetry.DBLogFullSQL))
	}
	db, err := persistence.NewDatabase(&cfg.Database, dbOpts...)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected", zap.String("driver", db.Driver()))

	if err := migrateSchema(db, log); err != nil {
		log.Fatal("Failed to migrate schema", zap.Error(err))
	}

	// Counterparty lock
	locker, closeLocker := newLocker(cfg, log)
	defer closeLocker()

	// Domain services
	ordering, err := finance.NewOrderingStrategy(finance.AllocationOrder(cfg.Ledger.AllocationOrder))
	if err != nil {
		log.Fatal("Invalid allocation order", zap.Error(err))
	}
	calc := finance.NewAmountCalculator(
		finance.WithGSTRate(cfg.Ledger.GSTRate),
		finance.WithBagWeight(cfg.Ledger.BagWeightKg),
	)

	tradeRepo := persistence.NewGormTradeRecordRepository(db.DB)
	cashRepo := persistence.NewGormCashEventRepository(db.DB)

	ledgerMetrics, err := telemetry.NewLedgerMetrics(telemetry.LedgerMetricsConfig{
		Meter:    meterProvider.Meter("ledger"),
		Logger:   log,
		Provider: tradeRepo,
	})
	if err != nil {
		log.Fatal("Failed to register ledger metrics", zap.Error(err))
	}

	eventBus := event.NewInMemoryEventBus(log, event.WithAsync(4, 256), event.WithHandlerTimeout(cfg.Storage.Timeout))
	if cfg.Storage.Enabled {
		subscribeReceiptArchiver(ctx, cfg, eventBus, log)
	}
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	ledgerService := appfinance.NewLedgerService(
		tradeRepo,
		cashRepo,
		persistence.NewGormTransactionScope(db.DB),
		locker,
		appfinance.WithAmountCalculator(calc),
		appfinance.WithOrderingStrategy(ordering),
		appfinance.WithEventPublisher(eventBus),
		appfinance.WithLedgerMetrics(ledgerMetrics),
		appfinance.WithLogger(log.Named("ledger")),
	)

	// HTTP
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	ledgerMetrics.StartCollector(bgCtx)

	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimitEnabled {
		limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst, 10*time.Minute)
		limiter.StartCleanup(bgCtx)
	}

	engine := router.NewEngine(router.EngineConfig{
		HTTP:        cfg.HTTP,
		ServiceName: cfg.Telemetry.ServiceName,
		Logger:      log,
		Meter:       meterProvider.Meter("http"),
		Tracing:     tracerProvider.IsEnabled(),
		Profiling:   profiler.IsEnabled(),
		RateLimiter: limiter,
		Health:      handler.NewHealthHandler(db, cfg.App.Version),
		Ledger:      handler.NewLedgerHandler(ledgerService),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shut down", zap.Error(err))
	}
	stopBackground()
	ledgerMetrics.Stop()

	// Drain queued receipts before the database and exporters go away
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping event bus", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}

	log.Info("Server exited")
}

// migrateSchema applies the embedded migrations on the server's own pool.
// The migrator is not closed: closing it closes the shared *sql.DB.
func migrateSchema(db *persistence.Database, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, db.Driver(), log.Named("migrate"))
	if err != nil {
		return err
	}
	return m.Up()
}

func newLocker(cfg *config.Config, log *zap.Logger) (appfinance.CounterpartyLocker, func()) {
	if cfg.Ledger.LockBackend != "redis" {
		log.Info("Using in-process counterparty lock")
		return lock.NewMemoryLocker(lock.WithWaitTimeout(cfg.Ledger.LockExpiry)), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Fatal("Failed to connect to redis", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
	}
	log.Info("Using redis counterparty lock", zap.String("addr", cfg.Redis.Addr()))

	locker := lock.NewRedisLocker(client,
		lock.WithExpiry(cfg.Ledger.LockExpiry),
		lock.WithRetries(cfg.Ledger.LockTries, cfg.Ledger.LockRetryDelay),
		lock.WithLogger(log.Named("lock")),
	)
	return locker, func() {
		if err := client.Close(); err != nil {
			log.Error("Error closing redis client", zap.Error(err))
		}
	}
}

func subscribeReceiptArchiver(ctx context.Context, cfg *config.Config, bus *event.InMemoryEventBus, log *zap.Logger) {
	store, err := storage.NewS3ReceiptStore(&cfg.Storage, storage.WithLogger(log.Named("receipts")))
	if err != nil {
		log.Fatal("Failed to create receipt store", zap.Error(err))
	}
	ensureCtx, cancel := context.WithTimeout(ctx, cfg.Storage.Timeout)
	defer cancel()
	if err := store.EnsureBucket(ensureCtx); err != nil {
		// Uploads retry through the breaker; a missing bucket is not fatal at boot
		log.Warn("Receipt bucket not ready", zap.String("bucket", store.Bucket()), zap.Error(err))
	}

	archiver := appfinance.NewReceiptArchiver(store, storage.NewINRFormatter(), cfg.Storage.Prefix, log.Named("receipts"))
	bus.Subscribe(archiver)
	log.Info("Receipt archiving enabled",
		zap.String("bucket", store.Bucket()),
		zap.Strings("events", archiver.EventTypes()),
	)
}
