package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/evidencije/coursework-api/api/swagger"
	"github.com/evidencije/coursework-api/internal/handler"
	"github.com/evidencije/coursework-api/internal/middleware"
	"github.com/evidencije/coursework-api/internal/repository"
	"github.com/evidencije/coursework-api/internal/service"
	"github.com/evidencije/coursework-api/pkg/cache"
	"github.com/evidencije/coursework-api/pkg/config"
	"github.com/evidencije/coursework-api/pkg/database"
	"github.com/evidencije/coursework-api/pkg/holiday"
	"github.com/evidencije/coursework-api/pkg/jobs"
	"github.com/evidencije/coursework-api/pkg/logger"
	corsmiddleware "github.com/evidencije/coursework-api/pkg/middleware/cors"
	reqidmiddleware "github.com/evidencije/coursework-api/pkg/middleware/requestid"
	"github.com/evidencije/coursework-api/pkg/storage"
)

// @title Evidencije Coursework API
// @version 1.0.0
// @description Academic coursework service: subjects, assignments, submissions and deadlines.
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The holiday cache is an optimization; the API stays up without it.
		logr.Sugar().Warnw("redis unavailable, holiday caching disabled", "error", err)
		redisClient = nil
	}

	blobs, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("upload storage init failed", "error", err)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	plagiarismRepo := repository.NewPlagiarismRepository(db)

	// A typed-nil cache pointer would defeat the service's nil check.
	var holidayCache interface {
		Get(ctx context.Context, countryCode string, year int) ([]holiday.Holiday, error)
		Set(ctx context.Context, countryCode string, year int, holidays []holiday.Holiday, ttl time.Duration)
	}
	if redisClient != nil {
		holidayCache = repository.NewHolidayCacheRepository(redisClient, logr)
	}
	holidayClient := holiday.NewClient(cfg.Calendar.BaseURL, cfg.Calendar.FetchTimeout)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "coursework-api",
	})
	userService := service.NewUserService(userRepo, submissionRepo, validate, logr)
	subjectService := service.NewSubjectService(subjectRepo, validate, logr).WithRoleValidation(userRepo)
	assignmentService := service.NewAssignmentService(assignmentRepo, subjectRepo, validate, logr)

	var plagiarismService *service.PlagiarismService
	if cfg.Plagiat.Enabled {
		plagiarismService = service.NewPlagiarismService(plagiarismRepo, submissionRepo, blobs, jobs.Options{
			Workers:    cfg.Plagiat.WorkerConcurrency,
			MaxRetries: cfg.Plagiat.WorkerRetries,
			Logger:     logr,
		}, logr).WithMetrics(metrics)
	}

	// A nil *PlagiarismService must not travel as a non-nil interface.
	var enqueuer interface{ EnqueueCheck(string) error }
	if plagiarismService != nil {
		enqueuer = plagiarismService
	}
	submissionService := service.NewSubmissionService(submissionRepo, assignmentRepo, subjectRepo, plagiarismRepo, blobs, enqueuer, validate, logr)
	exportService := service.NewExportService(submissionRepo, logr)

	calendarService := service.NewCalendarService(assignmentRepo, holidayCache, holidayClient, service.CalendarOptions{
		CountryCode:  cfg.Calendar.CountryCode,
		YearsAhead:   cfg.Calendar.YearsAhead,
		CacheTTL:     cfg.Calendar.CacheTTL,
		FetchTimeout: cfg.Calendar.FetchTimeout,
	}, logr).WithMetrics(metrics)

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	subjectHandler := handler.NewSubjectHandler(subjectService)
	assignmentHandler := handler.NewAssignmentHandler(assignmentService)
	submissionHandler := handler.NewSubmissionHandler(submissionService, exportService, cfg.Uploads.MaxFileSizeBytes)
	calendarHandler := handler.NewCalendarHandler(calendarService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.MaxMultipartMemory = cfg.Uploads.MaxFileSizeBytes

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authService))
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/auth/me", authHandler.Me)

		protected.GET("/users", userHandler.List)
		protected.POST("/users", userHandler.Create)
		protected.GET("/users/:id", userHandler.Get)
		protected.PUT("/users/:id", userHandler.Update)
		protected.DELETE("/users/:id", userHandler.Delete)

		protected.GET("/subjects", subjectHandler.List)
		protected.POST("/subjects", subjectHandler.Create)
		protected.GET("/subjects/:id", subjectHandler.Get)
		protected.PUT("/subjects/:id", subjectHandler.Update)
		protected.DELETE("/subjects/:id", subjectHandler.Delete)

		protected.GET("/assignments", assignmentHandler.List)
		protected.POST("/assignments", assignmentHandler.Create)
		protected.GET("/assignments/:id", assignmentHandler.Get)
		protected.PUT("/assignments/:id", assignmentHandler.Update)
		protected.DELETE("/assignments/:id", assignmentHandler.Delete)

		protected.GET("/submissions", submissionHandler.List)
		protected.POST("/submissions", submissionHandler.Create)
		protected.GET("/submissions/export", submissionHandler.Export)
		protected.GET("/submissions/:id", submissionHandler.Get)
		protected.PUT("/submissions/:id", submissionHandler.Update)
		protected.DELETE("/submissions/:id", submissionHandler.Delete)
		protected.GET("/submissions/:id/file", submissionHandler.Download)

		protected.GET("/calendar/deadlines", calendarHandler.Deadlines)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if plagiarismService != nil {
		plagiarismService.Start(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
	if plagiarismService != nil {
		plagiarismService.Stop()
	}
	logr.Info("server stopped")
}
