package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferialabs/feriago/internal/config"
	"github.com/ferialabs/feriago/internal/metrics"
	"github.com/ferialabs/feriago/internal/postgres"
	redisx "github.com/ferialabs/feriago/internal/redis"
	postgresrepo "github.com/ferialabs/feriago/internal/repository/postgres"
	redisrepo "github.com/ferialabs/feriago/internal/repository/redis"
	"github.com/ferialabs/feriago/internal/service"
	"github.com/ferialabs/feriago/internal/service/attendance"
	"github.com/ferialabs/feriago/internal/service/codes"
	httpgin "github.com/ferialabs/feriago/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	pubsub     *redisx.EnrollmentsPubSub
	cache      *redisrepo.Cache
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redisx.New(context.Background(), redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	pubsub := redisx.NewEnrollmentsPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "rl", 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Initialize services
	services := service.NewServices(store, cache, pubsub, limiter, service.Config{
		Attendance: attendance.Config{Scope: cfg.Fair.AttendanceScope},
		Codes: codes.Config{
			TTLDefault: cfg.Fair.CodeTTLDefault,
			TTLMax:     cfg.Fair.CodeTTLMax,
		},
	}, logger)

	// Initialize Gin router
	m := metrics.New()
	router := httpgin.NewRouter(services, idempotencyStore, m, cfg.Auth.JWTSecret, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		pubsub: pubsub,
		cache:  cache,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Drop cached counters when another instance confirms an enrollment.
	g.Go(func() error {
		err := a.pubsub.Subscribe(gCtx, func(ctx context.Context, projectID string) {
			if err := a.cache.InvalidateProject(ctx, projectID); err != nil {
				a.logger.Warn("cache invalidation failed", "project_id", projectID, "error", err)
			}
		})
		if err != nil && gCtx.Err() == nil {
			return fmt.Errorf("pubsub subscribe: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
