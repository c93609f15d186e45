package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupkeeper/internal/antispam"
	"groupkeeper/internal/bot"
	"groupkeeper/internal/cache"
	"groupkeeper/internal/config"
	"groupkeeper/internal/economy"
	"groupkeeper/internal/httpserver"
	"groupkeeper/internal/jobs"
	"groupkeeper/internal/logging"
	"groupkeeper/internal/metrics"
	"groupkeeper/internal/repo"
	"groupkeeper/internal/settings"
	"groupkeeper/internal/telegram"
	"groupkeeper/internal/verify"
	"groupkeeper/internal/webapp"
	"groupkeeper/migrations"

	"github.com/joho/godotenv"
)

const (
	albumTTL        = 2 * time.Minute
	maxSpamWindow   = time.Hour
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting groupkeeper", "env", cfg.AppEnv, "driver", cfg.DatabaseDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	var redisClient *cache.Redis
	if cfg.RedisAddr != "" {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
	}

	settingsStore := settings.New(repository, logger)
	if redisClient != nil {
		if err := settingsStore.Watch(ctx, redisClient); err != nil {
			logger.Warn("settings will not sync across instances", "error", err)
		}
	}
	if _, err := settingsStore.Get(ctx); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	ledger := economy.NewLedger(repository, settingsStore, metricRegistry, logger, nil)
	rewards := economy.NewEngine(repository, settingsStore, metricRegistry, logger, nil)
	referrals := economy.NewReferrals(repository, settingsStore, metricRegistry, logger)

	tgClient, err := telegram.New(telegram.Config{
		Token:   cfg.TelegramToken,
		Metrics: metricRegistry,
	}, logger)
	if err != nil {
		return fmt.Errorf("init telegram client: %w", err)
	}

	// Redis windows are shared across replicas; the in-memory tracker needs pruning.
	var (
		tracker       antispam.Tracker
		memoryTracker *antispam.MemoryTracker
	)
	if redisClient != nil {
		tracker = antispam.NewRedisTracker(redisClient, nil)
	} else {
		memoryTracker = antispam.NewMemoryTracker(nil)
		tracker = memoryTracker
	}
	albums := antispam.NewAlbumFilter(albumTTL, nil)
	penalties := antispam.NewPenalties(nil)
	admins := bot.NewAdminCache(tgClient, redisClient, cfg.AdminCacheTTL, logger, nil)

	engine := bot.New(bot.Deps{
		Messenger:  tgClient,
		Ledger:     ledger,
		Rewards:    rewards,
		Referrals:  referrals,
		Settings:   settingsStore,
		Tracker:    tracker,
		Albums:     albums,
		Penalties:  penalties,
		Challenges: verify.NewStore(nil, nil),
		Admins:     admins,
		Metrics:    metricRegistry,
		Logger:     logger,
	}, bot.Config{
		Operators:            cfg.AdminIDs,
		VerificationTimeout:  cfg.VerificationTimeout,
		SpamMuteDuration:     cfg.SpamMuteDuration,
		AdminPenaltyDuration: cfg.AdminPenaltyDuration,
		WebAppURL:            cfg.WebAppURL,
	})
	defer engine.Stop()
	tgClient.SetHandler(engine)

	scheduler := jobs.NewScheduler(logger, metricRegistry)
	for _, j := range []jobs.Job{
		jobs.DailyReset(ledger, cfg.DailyResetSchedule, logger),
		jobs.PruneCaches(jobs.Caches{
			Tracker:   memoryTracker,
			MaxWindow: maxSpamWindow,
			Albums:    albums,
			Penalties: penalties,
			Verify:    engine.Verification(),
			Admins:    admins,
		}, logger),
		jobs.ReferralPayouts(referrals, logger),
	} {
		if err := scheduler.Register(j); err != nil {
			return fmt.Errorf("register job: %w", err)
		}
	}
	scheduler.Start()

	botCtx, botCancel := context.WithCancel(ctx)
	defer botCancel()
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		if err := tgClient.Start(botCtx); err != nil {
			logger.Error("telegram client stopped", "error", err)
			stop()
		}
	}()

	webHandler := webapp.NewHandler(rewards, ledger, webapp.Config{
		BotToken: cfg.TelegramToken,
		MaxAge:   cfg.WebAppAuthMaxAge,
	}, logger, metricRegistry)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Handlers{
		WebApp:    webHandler,
		StaticDir: cfg.WebAppDir,
	}, cfg.PublicBasePath)
	httpSrv.SetDependencies(httpserver.Dependencies{
		Repository: repository,
		Redis:      redisClient,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	botCancel()
	select {
	case <-botDone:
	case <-shutdownCtx.Done():
		logger.Warn("telegram handlers still running at shutdown")
	}
	scheduler.Stop(shutdownCtx)

	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		r, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("init sqlite repository: %w", err)
		}
		return r, nil
	default:
		r, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres repository: %w", err)
		}
		return r, nil
	}
}
