package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/internal/config"
	"github.com/fluxcart/delta/internal/database"
	"github.com/fluxcart/delta/internal/handlers"
	"github.com/fluxcart/delta/internal/messaging"
	"github.com/fluxcart/delta/internal/middleware"
	"github.com/fluxcart/delta/internal/services"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine

	consumerCancel context.CancelFunc
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	svcs, err := services.New(cfg, app.logger, db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svcs

	app.handlers, err = handlers.New(app.logger, svcs)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	app.setupRouter()
	app.startInvalidationConsumer()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.consumerCancel != nil {
		a.consumerCancel()
	}

	a.services.Stop()

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}

	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))
	router.Use(middleware.CompressionMiddleware())

	// Health check endpoint (no auth required)
	router.GET("/health", a.handlers.Health.Check)

	// Prometheus metrics endpoint (no auth required)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api/v1")
	{
		api.Use(middleware.Auth(a.services.Auth, a.logger))
		api.Use(middleware.RateLimit(a.services.RateLimit, a.logger))

		// Bucket routes
		bucket := api.Group("/bucket")
		{
			bucket.GET("/:customerKey", a.handlers.Bucket.Get)
			bucket.POST("/:customerKey/rebuild", a.handlers.Bucket.Rebuild)
			bucket.GET("/:customerKey/scored", a.handlers.Bucket.Scored)
		}

		// Engagement tracking routes
		track := api.Group("/track")
		{
			track.POST("/view", a.handlers.Tracking.TrackView)
			track.POST("/click", a.handlers.Tracking.TrackClick)
			track.POST("/visit", a.handlers.Tracking.TrackVisit)
			track.POST("/batch", a.handlers.Tracking.TrackBatch)
			track.POST("/adopt", a.handlers.Tracking.AdoptGuest)
		}

		// Admin routes
		admin := api.Group("/admin")
		{
			admin.GET("/weights", a.handlers.Admin.GetWeights)
			admin.PUT("/weights", a.handlers.Admin.PutWeights)
			admin.GET("/weights/history", a.handlers.Admin.WeightHistory)
			admin.GET("/reports/click-through", a.handlers.Admin.ClickThroughReport)
			admin.GET("/queue/metrics", a.handlers.Admin.QueueMetrics)
		}
	}

	a.router = router
}

// startInvalidationConsumer drains the invalidation topic and rebuilds the
// affected customer buckets. Failed messages are retried by the bus and
// eventually dead-lettered, so the handler returns errors as-is.
func (a *App) startInvalidationConsumer() {
	ctx, cancel := context.WithCancel(context.Background())
	a.consumerCancel = cancel

	go func() {
		err := a.services.MessageBus.ConsumeInvalidations(ctx, func(msg messaging.InvalidationMessage) error {
			_, err := a.services.Cache.Rebuild(ctx, msg.CustomerKey, 0)
			return err
		})
		if err != nil && ctx.Err() == nil {
			a.logger.WithError(err).Error("Invalidation consumer stopped")
		}
	}()
}
