package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/classworks/edumarket-api/internal/handler"
	"github.com/classworks/edumarket-api/internal/middleware"
	"github.com/classworks/edumarket-api/internal/models"
	"github.com/classworks/edumarket-api/internal/repository"
	"github.com/classworks/edumarket-api/internal/service"
	"github.com/classworks/edumarket-api/pkg/cache"
	"github.com/classworks/edumarket-api/pkg/config"
	"github.com/classworks/edumarket-api/pkg/database"
	"github.com/classworks/edumarket-api/pkg/export"
	"github.com/classworks/edumarket-api/pkg/jobs"
	"github.com/classworks/edumarket-api/pkg/logger"
	corsmiddleware "github.com/classworks/edumarket-api/pkg/middleware/cors"
	reqidmiddleware "github.com/classworks/edumarket-api/pkg/middleware/requestid"
	"github.com/classworks/edumarket-api/pkg/payment"
	"github.com/classworks/edumarket-api/pkg/storage"
)

// @title EduMarket API
// @version 1.0.0
// @description Enrollment, purchase and entitlement core for the education marketplace
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
		logr.Sugar().Warnw("redis unavailable, eligibility cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	// infra clients
	gateway := payment.NewClient(cfg.Payment)
	signer := payment.NewSigner(cfg.Payment.KeySecret)
	tokens := storage.NewDownloadTokenSigner(cfg.Content.DownloadTokenSecret, cfg.Content.DownloadTokenTTL)
	receipts := export.NewReceiptExporter()

	// repositories
	userRepo := repository.NewUserRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	enrollmentRepo := repository.NewCourseEnrollmentRepository(db)
	purchaseRepo := repository.NewNotesPurchaseRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	notesRepo := repository.NewNotesRepository(db)
	testRepo := repository.NewTestRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	eligibilityCache := repository.NewEligibilityCache(redisClient, cfg.Content.EligibilityCacheTTL, logr)

	// services
	metrics := service.NewMetricsService()
	syncer := service.NewPurchasedStudentSyncer(purchaseRepo, jobs.QueueConfig{
		Workers:    cfg.Sync.Workers,
		MaxRetries: cfg.Sync.MaxRetries,
		RetryDelay: cfg.Sync.RetryDelay,
	}, logr)
	batchService := service.NewBatchService(batchRepo, userRepo, eligibilityCache, metrics, validate, logr)
	enrollmentService := service.NewEnrollmentService(enrollmentRepo, courseRepo, userRepo, gateway, signer, metrics, validate, logr)
	purchaseService := service.NewPurchaseService(purchaseRepo, notesRepo, userRepo, gateway, signer, syncer, receipts, metrics, metrics, validate, logr)
	accessService := service.NewAccessService(enrollmentRepo, purchaseService, batchService, notesRepo, metrics, validate, logr)
	testService := service.NewTestService(testRepo, batchRepo, batchService, validate, logr)

	syncCtx, cancelSync := context.WithCancel(context.Background())
	syncer.Start(syncCtx)

	// handlers
	batchHandler := handler.NewBatchHandler(batchService)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentService)
	purchaseHandler := handler.NewPurchaseHandler(purchaseService, accessService, tokens)
	accessHandler := handler.NewAccessHandler(accessService)
	testHandler := handler.NewTestHandler(testService)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.Identity(cfg.JWT.Secret))

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	students := middleware.RequireRoles(models.RoleStudent)

	batches := api.Group("/batches")
	{
		batches.POST("", staff, middleware.Audit(auditRepo, "create", "batch"), batchHandler.Create)
		batches.GET("", batchHandler.List)
		batches.GET("/:id", batchHandler.Get)
		batches.DELETE("/:id", staff, middleware.Audit(auditRepo, "deactivate", "batch"), batchHandler.Deactivate)
		batches.POST("/:id/students", staff, middleware.Audit(auditRepo, "assign_students", "batch"), batchHandler.AssignStudents)
		batches.DELETE("/:id/students", staff, middleware.Audit(auditRepo, "remove_students", "batch"), batchHandler.RemoveStudents)
		batches.PUT("/:id/subjects/:subjectId/teacher", staff, middleware.Audit(auditRepo, "assign_teacher", "batch_subject"), batchHandler.AssignTeacher)
		batches.GET("/:id/eligible-students", batchHandler.EligibleStudents)
	}

	enrollments := api.Group("/enrollments")
	{
		enrollments.POST("", students, enrollmentHandler.Enroll)
		enrollments.GET("", students, enrollmentHandler.ListMine)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.POST("/:id/payment", enrollmentHandler.CompletePayment)
		enrollments.POST("/:id/cancel", enrollmentHandler.Cancel)
		enrollments.PUT("/:id/progress", students, enrollmentHandler.UpdateProgress)
	}

	purchases := api.Group("/purchases")
	{
		purchases.POST("", students, purchaseHandler.Purchase)
		purchases.GET("", students, purchaseHandler.ListMine)
		purchases.GET("/:id", purchaseHandler.Get)
		purchases.POST("/:id/payment", purchaseHandler.CompletePayment)
		purchases.POST("/:id/cancel", purchaseHandler.Cancel)
		purchases.POST("/:id/download", purchaseHandler.Download)
		purchases.GET("/:id/history", staff, purchaseHandler.History)
		purchases.GET("/:id/receipt", purchaseHandler.Receipt)
	}

	api.POST("/access/check", accessHandler.Check)

	tests := api.Group("/tests")
	{
		tests.POST("", staff, middleware.Audit(auditRepo, "create", "test"), testHandler.Create)
		tests.GET("/:id", testHandler.Get)
		tests.POST("/:id/students", staff, middleware.Audit(auditRepo, "assign_students", "test"), testHandler.AssignStudents)
		tests.POST("/:id/submission", students, testHandler.Submit)
		tests.POST("/:id/marks", staff, middleware.Audit(auditRepo, "record_marks", "test"), testHandler.RecordMarks)
		tests.GET("/:id/roster", staff, testHandler.Roster)
		tests.GET("/:id/statistics", staff, testHandler.Statistics)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}

	cancelSync()
	syncer.Stop()
	logr.Sugar().Infow("shutdown complete")
}
