package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/lifeplannerdev/lpcrm/api/swagger"
	"github.com/lifeplannerdev/lpcrm/internal/handler"
	"github.com/lifeplannerdev/lpcrm/internal/middleware"
	"github.com/lifeplannerdev/lpcrm/internal/models"
	"github.com/lifeplannerdev/lpcrm/internal/repository"
	"github.com/lifeplannerdev/lpcrm/internal/roles"
	"github.com/lifeplannerdev/lpcrm/internal/service"
	"github.com/lifeplannerdev/lpcrm/pkg/cache"
	"github.com/lifeplannerdev/lpcrm/pkg/config"
	"github.com/lifeplannerdev/lpcrm/pkg/database"
	"github.com/lifeplannerdev/lpcrm/pkg/logger"
	corsmiddleware "github.com/lifeplannerdev/lpcrm/pkg/middleware/cors"
	reqidmiddleware "github.com/lifeplannerdev/lpcrm/pkg/middleware/requestid"
)

// @title LifePlanner CRM API
// @version 1.0.0
// @description Lead lifecycle, assignment and processing API
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	viewAll := make([]models.UserRole, 0, len(cfg.Leads.ViewAllRoles))
	for _, role := range cfg.Leads.ViewAllRoles {
		viewAll = append(viewAll, models.UserRole(role))
	}
	hierarchy := roles.Default(viewAll...)

	leadRepo := repository.NewLeadRepository(db)
	userRepo := repository.NewUserRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Leads.CacheTTL, logr, cfg.Leads.CacheEnabled && redisClient != nil)
	activitySvc := service.NewActivityService(activityRepo, logr)
	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	leadSvc := service.NewLeadService(leadRepo, userRepo, hierarchy, cfg.Leads.AllowedStatuses, activitySvc, cacheSvc, metricsSvc, nil, logr)
	assignmentSvc := service.NewAssignmentService(leadRepo, userRepo, hierarchy, activitySvc, nil, logr)
	processingSvc := service.NewProcessingService(leadRepo, hierarchy, activitySvc, nil, logr)
	exportSvc := service.NewExportService(leadRepo, hierarchy, nil, nil, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	leadHandler := handler.NewLeadHandler(leadSvc, exportSvc)
	assignmentHandler := handler.NewAssignmentHandler(assignmentSvc)
	processingHandler := handler.NewProcessingHandler(processingSvc)
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
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	leads := api.Group("/leads", middleware.JWT(authSvc), middleware.RequireLeadAccess(hierarchy))
	leads.GET("", leadHandler.List)
	leads.POST("", leadHandler.Create)
	leads.GET("/my-team", leadHandler.MyTeam)
	leads.GET("/stats", leadHandler.Stats)
	leads.GET("/export", leadHandler.Export)
	leads.GET("/available-users", assignmentHandler.AvailableUsers)
	leads.POST("/bulk-assign", assignmentHandler.BulkAssign)
	leads.GET("/:id", leadHandler.Get)
	leads.PATCH("/:id", leadHandler.Update)
	leads.PUT("/:id", leadHandler.Update)
	leads.DELETE("/:id", middleware.RequireRoles(hierarchy.AdminTierRoles()...), leadHandler.Delete)
	leads.GET("/:id/timeline", leadHandler.Timeline)
	leads.GET("/:id/assignment-history", leadHandler.AssignmentHistory)
	leads.GET("/:id/remark-history", leadHandler.RemarkHistory)
	leads.POST("/:id/assign", assignmentHandler.Assign)
	leads.POST("/:id/unassign", assignmentHandler.Unassign)
	leads.POST("/:id/forward", processingHandler.Forward)
	leads.POST("/:id/accept", processingHandler.Accept)
	leads.POST("/:id/reject", processingHandler.Reject)
	leads.POST("/:id/complete", processingHandler.Complete)
	leads.POST("/:id/hold", processingHandler.Hold)
	leads.POST("/:id/reopen", processingHandler.Reopen)
	leads.PUT("/:id/document-status", processingHandler.DocumentStatus)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
