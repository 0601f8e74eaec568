package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shopassist/internal/api"
	"shopassist/internal/buildinfo"
	"shopassist/internal/config"
	"shopassist/internal/feed"
	"shopassist/internal/lock"
	"shopassist/internal/logging"
	"shopassist/internal/store"
	"shopassist/internal/webhooks"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (default "+config.DefaultConfigPath+" when present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		locker lock.Locker = lock.NewMemory()
		live   feed.Feed   = feed.NewBroker()
		rdb    *redis.Client
	)
	if cfg.Redis.URL != "" {
		rdb, err = lock.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		locker = lock.NewRedis(rdb)
		live = feed.NewRedisBroker(rdb, logger.Named("feed"))
		logger.Info("redis enabled for delivery locks and live feed")
	}

	executor := webhooks.NewExecutor(nil, cfg.Webhooks.RequestTimeout)
	executor.ExcerptLimit = cfg.Webhooks.ResponseExcerptLimit

	sched := webhooks.NewTimerScheduler()
	engine := webhooks.NewEngine(st, executor, cfg.Webhooks.EngineConfig(),
		webhooks.WithScheduler(sched),
		webhooks.WithLocker(locker),
		webhooks.WithNotifier(live),
		webhooks.WithLogger(logger.Named("webhooks")),
	)
	sweeper := webhooks.NewSweeper(engine, cfg.Webhooks.SweepInterval, cfg.Webhooks.SweepBatch, logger.Named("sweeper"))
	sweeper.Start()

	server := api.NewServer(engine, st, live, cfg, logger.Named("http"))
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("version", buildinfo.Version),
			zap.Bool("postgres", cfg.Database.URL != ""),
			zap.Bool("redis", rdb != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		sweeper.Stop()
		sched.Stop()
		return err
	}

	logger.Info("shutting down server...")
	sweeper.Stop()
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	return nil
}

// openStore picks PostgreSQL when a database URL is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set; deliveries are kept in memory and lost on restart")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pg.Ping(pingCtx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	if cfg.Database.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database migrated")
	}
	return pg, func() { _ = pg.Close() }, nil
}
