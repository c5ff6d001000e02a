package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/ludo-moderation-api/api/swagger"
	"github.com/noah-isme/ludo-moderation-api/internal/handler"
	"github.com/noah-isme/ludo-moderation-api/internal/ledger"
	"github.com/noah-isme/ludo-moderation-api/internal/middleware"
	"github.com/noah-isme/ludo-moderation-api/internal/models"
	"github.com/noah-isme/ludo-moderation-api/internal/repository"
	"github.com/noah-isme/ludo-moderation-api/internal/service"
	"github.com/noah-isme/ludo-moderation-api/pkg/cache"
	"github.com/noah-isme/ludo-moderation-api/pkg/config"
	"github.com/noah-isme/ludo-moderation-api/pkg/database"
	"github.com/noah-isme/ludo-moderation-api/pkg/export"
	"github.com/noah-isme/ludo-moderation-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/ludo-moderation-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/ludo-moderation-api/pkg/middleware/requestid"
)

// @title Ludo Moderation API
// @version 1.0.0
// @description Moderation and coin settlement service for payment and withdrawal requests
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The sweep lock degrades to lock-free operation without Redis;
		// credits stay safe because they are idempotent.
		logr.Sugar().Warnw("redis unavailable, sweep lock disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	metricsSvc := service.NewMetricsService()

	requestRepo := repository.NewRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	lockRepo := repository.NewLockRepository(redisClient, logr)

	ledgerClient := ledger.NewHTTPClient(cfg.Ledger)

	settlementSvc := service.NewSettlementService(requestRepo, ledgerClient, lockRepo, auditRepo, metricsSvc, logr, cfg.Sweep)
	moderationSvc := service.NewModerationService(requestRepo, settlementSvc, auditRepo, metricsSvc, logr)

	moderationHandler := handler.NewModerationHandler(moderationSvc, settlementSvc, nil)
	if cfg.Exports.Enabled {
		exportSvc := service.NewExportService(requestRepo, export.NewCSVExporter(), export.NewPDFExporter(), logr)
		moderationHandler = handler.NewModerationHandler(moderationSvc, settlementSvc, exportSvc)
	}
	auditHandler := handler.NewAuditHandler(auditRepo)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.Operator(false))
	{
		requests := api.Group("/moderation/requests")
		requests.POST("", moderationHandler.Submit)
		requests.GET("", moderationHandler.List)
		requests.GET("/pending", moderationHandler.ListPending)
		requests.GET("/needs-review", moderationHandler.NeedsReview)
		requests.GET("/export", middleware.Audit(auditRepo, models.AuditActionHistoryExport, "moderation"), moderationHandler.Export)
		requests.GET("/:id", moderationHandler.Get)
		requests.GET("/:id/audit", auditHandler.Trail)
		requests.POST("/:id/decide", moderationHandler.Decide)

		api.POST("/moderation/sweep", moderationHandler.Sweep)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settlementSvc.Start(ctx)
	defer settlementSvc.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
