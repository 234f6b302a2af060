package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	v1 "github.com/kamlesh9876/Devium-sub000/cmd/api/router/v1"
	"github.com/kamlesh9876/Devium-sub000/internal/config"
	cacheadapter "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/cache/adapter"
	cacheport "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/cache/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/database"
	feedadapter "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/adapter"
	feedport "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/logging"
	qadapter "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/queue/adapter"
	qport "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/queue/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/realtime"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/service"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/task"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/usecase"
	httpHandler "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/presentation/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		client, err := cacheadapter.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		rdb = client
	}

	f, closeFeed, err := openFeed(ctx, cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer closeFeed()

	// The redis feed owns the client; otherwise close it here.
	if rdb != nil && cfg.FeedBackend != config.FeedRedis {
		defer func() { _ = rdb.Close() }()
	}

	var searchCache cacheport.Cache
	if rdb != nil {
		searchCache = cacheadapter.NewRedisCache(rdb, cfg.FeedPrefix+":cache")
	}

	clock := schedule.System()
	presence := usecase.NewPresenceTracker(f, clock, logger)
	defer presence.Close()

	svc := service.Deps{
		Feed:     f,
		Clock:    clock,
		Logger:   logger,
		Cache:    searchCache,
		CacheTTL: cfg.SearchCacheTTL,
		Presence: presence,
	}

	var wg sync.WaitGroup
	var queue qport.Client
	if cfg.QueueEnabled {
		client, err := startWorkers(ctx, &wg, cfg, f, clock, logger)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		queue = client
	}

	router := realtime.NewRouter()
	defer router.Close()

	engine := gin.New()
	engine.Use(requestLogger(logger), gin.Recovery())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "OK",
			"feed":        cfg.FeedBackend,
			"queue":       cfg.QueueEnabled,
			"connections": len(router.Users()),
		})
	})
	v1.RegisterRoutes(engine, httpHandler.Deps{
		Service:    svc,
		Queue:      queue,
		Router:     router,
		SendBuffer: realtime.DefaultSendBuffer,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr, "feed", cfg.FeedBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	notified := router.Broadcast([]byte(`{"type":"shutdown"}`), "")
	logger.Info("shutting down", "notified", notified)
	router.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	wg.Wait()
	return nil
}

// openFeed builds the configured feed backend and a function releasing it.
func openFeed(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *slog.Logger) (feedport.Feed, func(), error) {
	switch cfg.FeedBackend {
	case config.FeedRedis:
		f := feedadapter.NewRedisFeed(rdb, cfg.FeedPrefix, logger)
		return f, func() { _ = f.Close() }, nil

	case config.FeedPostgres:
		if cfg.RunMigrate {
			if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		pool, err := database.Connect(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		f := feedadapter.NewPgFeed(pool, cfg.FeedPrefix, logger)
		return f, func() {
			_ = f.Close()
			pool.Close()
		}, nil

	default:
		f := feedadapter.NewMemoryFeed()
		return f, func() { _ = f.Close() }, nil
	}
}

// startWorkers runs the asynq server and scheduler until ctx ends and returns the client
// the HTTP layer enqueues with.
func startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, f feedport.Feed, clock schedule.Clock, logger *slog.Logger) (*qadapter.AsynqClient, error) {
	opts := qadapter.Options{
		RedisURL:    cfg.RedisURL,
		Concurrency: cfg.AsynqConcurrency,
		Queues:      cfg.AsynqQueues,
		Logger:      logger,
	}
	srv, err := qadapter.NewAsynqServer(opts)
	if err != nil {
		return nil, err
	}
	task.RegisterSendMessageTask(srv, f, clock, logger)
	task.RegisterReconcileProjectChatsTask(srv, f, clock, logger)
	task.RegisterPresenceSweepTask(srv, f, clock, logger)

	scheduler, err := qadapter.NewAsynqScheduler(opts)
	if err != nil {
		return nil, err
	}
	if cfg.PresenceSweepEvery != "" {
		if _, err := task.SchedulePresenceSweep(scheduler, cfg.PresenceSweepEvery); err != nil {
			return nil, fmt.Errorf("schedule presence sweep: %w", err)
		}
	}

	client, err := qadapter.NewAsynqClient(opts)
	if err != nil {
		return nil, err
	}

	for name, runner := range map[string]func(context.Context) error{
		"asynq server":    srv.Run,
		"asynq scheduler": scheduler.Run,
	} {
		name, runner := name, runner
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runner(ctx); err != nil {
				logger.Error(name+" stopped", "error", err)
			}
		}()
	}
	return client, nil
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
