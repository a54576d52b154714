package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	"portsweep/config"
	_ "portsweep/docs"
	"portsweep/scanner"
)

const shutdownTimeout = 10 * time.Second

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// APIKey enables bearer authentication on /api/v1 when set.
	APIKey string
	// Redis enables the per-IP scan submission quota when set.
	Redis      *redis.Client
	RateLimit  int64
	RateWindow time.Duration
	Logger     *slog.Logger
}

// NewRouter builds the Gin engine with middleware, API routes, health check
// and Swagger UI.
func NewRouter(store TaskStore, opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLoggingMiddleware(logger), SecurityHeadersMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	if opts.APIKey != "" {
		v1.Use(AuthMiddleware(opts.APIKey, logger))
	}
	var create []gin.HandlerFunc
	if opts.Redis != nil && opts.RateLimit > 0 {
		create = append(create, ScanQuotaMiddleware(opts.Redis, opts.RateLimit, opts.RateWindow, logger))
	}
	NewServer(store).RegisterRoutes(v1, create...)

	return router
}

// Run initializes dependencies and serves the API until ctx ends.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...scanner.Option) error {
	var (
		store       TaskStore
		redisClient *redis.Client
	)
	if cfg.API.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.API.RedisAddr, ContextTimeoutEnabled: true})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.API.RedisAddr, err)
		}
		store = NewRedisStore(redisClient, cfg.API.TaskTTL)
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory task store")
		store = NewMemoryStore(0)
	}

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(store, RouterOptions{
		APIKey:     cfg.API.Key,
		Redis:      redisClient,
		RateLimit:  cfg.API.RateLimit,
		RateWindow: cfg.API.RateWindow,
		Logger:     logger,
	})
	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting portsweep API server", "addr", cfg.API.Addr, "task_workers", cfg.API.TaskWorkers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return NewRunner(store, logger, opts...).Run(gctx, cfg.API.TaskWorkers)
	})

	return g.Wait()
}
