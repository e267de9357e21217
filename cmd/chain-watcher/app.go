package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mitul-open-wallet/cosmos-stream/internal/alert"
	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
	"github.com/mitul-open-wallet/cosmos-stream/internal/constants"
	"github.com/mitul-open-wallet/cosmos-stream/internal/deduplication"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	"github.com/mitul-open-wallet/cosmos-stream/internal/orchestrator"
	"github.com/mitul-open-wallet/cosmos-stream/internal/status"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/bootstrap"
	apperrors "github.com/mitul-open-wallet/cosmos-stream/pkg/errors"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/health"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/metrics"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/middleware"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/ratelimit"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	deps        orchestrator.Dependencies

	redis       *redis.Client
	store       *status.Store
	stopStore   context.CancelFunc
	alerter     *alert.MultiAlerter
	coordinator *orchestrator.Coordinator

	router        *gin.Engine
	server        *http.Server
	stopRateLimit chan struct{}
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:          bootstrap.NewBase(cfg, log),
		dbConnector:   bootstrap.NewDatabaseConnector(cfg, log),
		stopRateLimit: make(chan struct{}),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(constants.ServiceName); err != nil {
		return err
	}

	metrics.RegisterStreamMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterServerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initStatusStore(ctx)
	a.alerter = alert.FromConfig(a.Config.Alert, a.Logger)

	deps := a.deps
	deps.Store = a.store
	if a.Config.Deduplication.Enabled && a.redis != nil {
		deps.Dedup = deduplication.NewService(deduplication.NewRepository(a.redis), a.Config.Deduplication, a.Logger)
	}
	if a.alerter.Channels() > 0 {
		deps.Alerter = a.alerter
	}
	pipelines, err := orchestrator.Build(a.Config, deps, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to build pipelines: %w", err)
	}
	a.coordinator = orchestrator.NewCoordinator(constants.ShutdownTimeout, a.Logger, pipelines...)

	a.initRouter()
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  time.Duration(a.Config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.Config.Server.WriteTimeoutSeconds) * time.Second,
	}
	return nil
}

// initStatusStore connects redis when configured. A failed ping disables the
// store instead of aborting startup.
func (a *App) initStatusStore(ctx context.Context) {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Redis unavailable, status store disabled", "error", err)
		return
	}
	if rdb == nil {
		return
	}
	a.redis = rdb
	ttl := time.Duration(a.Config.Database.Redis.TTLSeconds) * time.Second
	a.store = status.NewStore(rdb, ttl, a.Logger)
}

func (a *App) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	router.GET("/check", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "hello"})
	})

	bootstrapHandlers := []gin.HandlerFunc{}
	if a.Config.Server.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromConfig(a.Config.Server.RateLimit)
		bootstrapHandlers = append(bootstrapHandlers, ratelimit.RateLimitMiddleware(rateLimitConfig, a.stopRateLimit))
		a.Logger.InfowCtx(context.Background(), "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}
	bootstrapHandlers = append(bootstrapHandlers, a.handleBootstrap)
	router.GET("/bootstrap", bootstrapHandlers...)

	healthRegistry := a.healthRegistry()
	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/status", a.handleStatus)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
}

func (a *App) healthRegistry() *health.CheckerRegistry {
	registry := health.NewCheckerRegistry()
	for _, p := range a.coordinator.Pipelines() {
		registry.Register(health.NewFuncChecker("stream:"+p.ChainID(), p.Source().Healthy))
		registry.Register(health.NewFuncChecker("broker:"+p.ChainID(), p.Gateway().Healthy))
	}
	if a.redis != nil {
		registry.RegisterOptional(health.NewRedisChecker(a.redis))
	}
	return registry
}

func (a *App) handleBootstrap(c *gin.Context) {
	ctx := c.Request.Context()
	started, err := a.coordinator.StartAll(ctx)
	if started == nil {
		started = []string{}
	}
	if err != nil {
		a.Logger.ErrorwCtx(ctx, "Bootstrap request failed", "error", err)
		response := apperrors.ToErrorResponse(err)
		response["started"] = started
		c.JSON(apperrors.ToHTTPStatus(err), response)
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": started})
}

type chainStatus struct {
	Status        string     `json:"status"`
	Running       bool       `json:"running"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

func (a *App) handleStatus(c *gin.Context) {
	chains := make(map[string]chainStatus, len(a.coordinator.Pipelines()))
	for _, p := range a.coordinator.Pipelines() {
		source := p.Source()
		entry := chainStatus{
			Status:  source.Status().String(),
			Running: p.Running(),
		}
		if last := source.LastMessageAt(); !last.IsZero() {
			entry.LastMessageAt = &last
		}
		chains[p.ChainID()] = entry
	}
	c.JSON(http.StatusOK, gin.H{"chains": chains})
}

// Run serves HTTP and keeps the pipelines alive until the first termination
// signal. With auto_start a pipeline failing to start aborts the run.
func (a *App) Run(ctx context.Context, signals <-chan os.Signal) error {
	if a.store != nil {
		storeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.stopStore = cancel
		go a.store.Run(storeCtx)
	}

	if a.Config.Server.AutoStart {
		if _, err := a.coordinator.StartAll(ctx); err != nil {
			_ = a.coordinator.Stop(ctx)
			return fmt.Errorf("failed to start pipelines: %w", err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := a.coordinator.Listen(gCtx, signals)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
		defer cancel()
		if serr := a.server.Shutdown(shutdownCtx); serr != nil {
			a.Logger.WarnwCtx(ctx, "HTTP server shutdown error", "error", serr)
		}
		return err
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down chain watcher")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.coordinator != nil {
			if err := a.coordinator.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("pipeline shutdown error: %w", err))
			}
		}

		if a.alerter != nil {
			a.alerter.Wait()
		}

		close(a.stopRateLimit)

		if a.stopStore != nil {
			a.stopStore()
		}
		errs = append(errs, a.dbConnector.ShutdownRedis(a.redis)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
