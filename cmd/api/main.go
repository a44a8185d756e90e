package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/cursolab/gestao-api/api/swagger"
	"github.com/cursolab/gestao-api/internal/handler"
	"github.com/cursolab/gestao-api/internal/middleware"
	"github.com/cursolab/gestao-api/internal/repository"
	"github.com/cursolab/gestao-api/internal/service"
	"github.com/cursolab/gestao-api/pkg/cache"
	"github.com/cursolab/gestao-api/pkg/config"
	"github.com/cursolab/gestao-api/pkg/database"
	"github.com/cursolab/gestao-api/pkg/logger"
	corsmiddleware "github.com/cursolab/gestao-api/pkg/middleware/cors"
	reqidmiddleware "github.com/cursolab/gestao-api/pkg/middleware/requestid"
)

// @title Gestao de Cursos API
// @version 1.0.0
// @description Back-office API for course, enrollment and attendance management
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

	validate := validator.New()

	// repositories
	candidateRepo := repository.NewCandidateRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	classRepo := repository.NewClassRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	instructorRepo := repository.NewInstructorRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewUserRepository(db)

	// optional report cache
	var reportCache service.ReportCache = service.NoopReportCache{}
	if cfg.ReportCache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, report caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			reportCache = service.NewRedisReportCache(redisClient, cfg.ReportCache.TTL, logr)
		}
	}

	// services
	metricsSvc := service.NewMetricsService()
	auditSvc := service.NewAuditService(auditRepo, logr).WithMetrics(metricsSvc)
	notifier := service.NewNotifier(&service.LogMailer{Logger: logr}, cfg.Notifications, logr)
	notifier.Start(context.Background())
	defer notifier.Stop()

	authSvc := service.NewAuthService(userRepo, auditSvc, cfg.JWT, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, auditSvc, validate, logr)
	classSvc := service.NewClassService(classRepo, courseRepo, enrollmentRepo, db, auditSvc, notifier, validate, logr)
	candidateSvc := service.NewCandidateService(candidateRepo, studentRepo, classRepo, enrollmentRepo, db, auditSvc, validate, logr).WithMetrics(metricsSvc)
	studentSvc := service.NewStudentService(studentRepo, candidateRepo, classRepo, enrollmentRepo, db, auditSvc, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, classRepo, studentRepo, enrollmentRepo, db, auditSvc, reportCache, validate, logr).WithMetrics(metricsSvc)
	instructorSvc := service.NewInstructorService(instructorRepo, classRepo, auditSvc, validate, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

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
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		auth:        authSvc,
		auditH:      handler.NewAuditHandler(auditSvc),
		authH:       handler.NewAuthHandler(authSvc),
		candidateH:  handler.NewCandidateHandler(candidateSvc),
		classH:      handler.NewClassHandler(classSvc),
		studentH:    handler.NewStudentHandler(studentSvc, attendanceSvc),
		courseH:     handler.NewCourseHandler(courseSvc),
		instructorH: handler.NewInstructorHandler(instructorSvc),
		enrollmentH: handler.NewEnrollmentHandler(enrollmentSvc),
		attendanceH: handler.NewAttendanceHandler(attendanceSvc),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
