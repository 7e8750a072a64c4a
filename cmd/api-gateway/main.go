package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-reg-api/api/swagger"
	"github.com/noah-isme/course-reg-api/internal/handler"
	"github.com/noah-isme/course-reg-api/internal/middleware"
	"github.com/noah-isme/course-reg-api/internal/models"
	"github.com/noah-isme/course-reg-api/internal/repository"
	"github.com/noah-isme/course-reg-api/internal/service"
	"github.com/noah-isme/course-reg-api/pkg/cache"
	"github.com/noah-isme/course-reg-api/pkg/config"
	"github.com/noah-isme/course-reg-api/pkg/database"
	"github.com/noah-isme/course-reg-api/pkg/export"
	"github.com/noah-isme/course-reg-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-reg-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-reg-api/pkg/middleware/requestid"
)

// @title Course Registration API
// @version 0.1.0
// @description Eligibility, conflict detection, and registration request lifecycle
// @BasePath /api/v1
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
		logr.Sugar().Warnw("redis unavailable, running without cache", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	sectionRepo := repository.NewSectionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	metricsSvc := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr).WithMetrics(metricsSvc)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "course-reg-api",
	})

	eligibilitySvc := service.NewEligibilityService(
		studentRepo, sectionRepo, enrollmentRepo, courseRepo,
		service.EligibilityPolicy{DefaultMaxCredits: cfg.Registration.MaxCredits},
		logr,
		service.WithSeatCache(cacheRepo, cfg.Registration.SeatCacheTTL),
	)

	requestSvc := service.NewRequestService(
		requestRepo, eligibilitySvc, studentRepo, enrollmentRepo,
		userRepo, cacheRepo, logr,
		service.WithDecisionRetryLimit(cfg.Registration.DecisionRetryLimit),
		service.WithDecisionMetrics(metricsSvc),
	)

	overrideSvc := service.NewOverrideService(sectionRepo, userRepo, cacheRepo, validate, logr)

	var scheduleSvc *service.ScheduleService
	if cfg.Export.Enabled {
		scheduleSvc = service.NewScheduleService(
			enrollmentRepo, sectionRepo, studentRepo,
			cacheRepo, cfg.Registration.ScheduleCacheTTL,
			export.NewCSVExporter(), export.NewPDFExporter(), logr,
		)
	} else {
		scheduleSvc = service.NewScheduleService(
			enrollmentRepo, sectionRepo, studentRepo,
			cacheRepo, cfg.Registration.ScheduleCacheTTL,
			nil, nil, logr,
		)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	sectionHandler := handler.NewSectionHandler(eligibilitySvc, overrideSvc, metricsSvc)
	requestHandler := handler.NewRequestHandler(requestSvc, metricsSvc)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db.Ping)

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
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)

	sections := api.Group("/sections", middleware.JWT(authSvc))
	sections.GET("", sectionHandler.Search)
	sections.GET("/:id/eligibility", sectionHandler.Eligibility)
	sections.POST("/:id/capacity-override",
		middleware.RequireRoles(models.RoleDepartmentHead, models.RoleRegistrar),
		sectionHandler.OverrideCapacity)
	sections.GET("/:id/overrides",
		middleware.RequireRoles(models.RoleAdvisor, models.RoleDepartmentHead, models.RoleRegistrar),
		sectionHandler.ListOverrides)

	requests := api.Group("/requests", middleware.JWT(authSvc))
	requests.POST("", requestHandler.Submit)
	requests.GET("", requestHandler.List)
	requests.GET("/:id", requestHandler.Get)
	requests.POST("/:id/decision", requestHandler.Decide)

	students := api.Group("/students", middleware.JWT(authSvc))
	students.GET("/:id/schedule",
		middleware.RBAC(middleware.SelfRule, string(models.RoleAdvisor), string(models.RoleDepartmentHead), string(models.RoleRegistrar)),
		scheduleHandler.Get)
	students.GET("/:id/schedule/export",
		middleware.RBAC(middleware.SelfRule, string(models.RoleAdvisor), string(models.RoleDepartmentHead), string(models.RoleRegistrar)),
		middleware.Audit(userRepo, models.AuditActionScheduleExport, "schedule"),
		scheduleHandler.Export)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env))
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
