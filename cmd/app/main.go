package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tradeguard/configs"
	"tradeguard/internal/adapter/telegram"
	"tradeguard/internal/database"
	delivery "tradeguard/internal/delivery/http"
	"tradeguard/internal/domain"
	"tradeguard/internal/infra"
	"tradeguard/internal/lock"
	"tradeguard/internal/metrics"
	"tradeguard/internal/repository"
	"tradeguard/internal/service"
	"tradeguard/internal/usecase"
)

func newLogger(level string, production bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if !production {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	return cfg.Build()
}

// openStore picks the persistence backend. The returned func releases it.
func openStore(ctx context.Context, cfg configs.StoreConfig, logger *zap.Logger) (domain.GuardRepository, func(), error) {
	switch cfg.Driver {
	case configs.DriverMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		return repository.NewMemoryRepository(), func() {}, nil

	case configs.DriverPostgres:
		pool, err := infra.NewDatabase(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repository.NewPostgresRepository(pool), pool.Close, nil

	case configs.DriverSQLite:
		db, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("sqlite store ready", zap.String("path", cfg.SQLitePath))
		repo := repository.NewSQLiteRepository(db)
		return repo, func() { _ = repo.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Driver)
}

func newLocker(cfg configs.RedisConfig, logger *zap.Logger) (domain.UserLocker, func(), error) {
	if cfg.URL == "" {
		logger.Info("using in-process user locks")
		return lock.NewMutexLocker(), func() {}, nil
	}

	rdb, err := lock.NewRedisClient(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	logger.Info("using redis user locks", zap.Duration("ttl", cfg.LockTTL))
	return lock.NewRedisLocker(rdb, cfg.LockTTL), func() { _ = rdb.Close() }, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg := configs.Load()

	logger, err := newLogger(cfg.Log.Level, cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer closeStore()

	locker, closeLocker, err := newLocker(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to set up user locks", zap.Error(err))
	}
	defer closeLocker()

	engine := service.NewGuardEngine(repo, locker, service.WithLogger(logger.Named("engine")))
	guard := usecase.NewGuardUsecase(engine, logger.Named("usecase"))

	sampler := infra.NewScheduler(engine, cfg.Metrics.SampleCron, logger.Named("scheduler"))
	if err := sampler.Start(); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sampler.Stop()
	if err := sampler.RunNow(ctx); err != nil {
		logger.Warn("initial sample failed", zap.Error(err))
	}

	metrics.Serve(ctx, cfg.Server.OpsAddr, repo, logger.Named("ops"))

	if cfg.Telegram.BotToken != "" {
		bot, err := telegram.NewBot(cfg.Telegram.BotToken, telegram.NewResponder(guard, logger.Named("bot")), logger.Named("bot"))
		if err != nil {
			logger.Error("telegram bot disabled", zap.Error(err))
		} else {
			go bot.Run(ctx)
		}
	} else {
		logger.Info("telegram bot disabled: TELEGRAM_BOT_TOKEN not set")
	}

	e := delivery.NewServer(delivery.NewGuardHandler(guard, logger.Named("http")), logger.Named("http"))
	e.Server.ReadTimeout = 15 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.IdleTimeout = 60 * time.Second

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	go func() {
		logger.Info("tradeguard starting",
			zap.String("addr", addr),
			zap.String("env", cfg.Server.Env),
			zap.String("store", cfg.Store.Driver),
		)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited gracefully")
}
