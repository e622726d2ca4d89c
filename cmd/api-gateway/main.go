package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/campusreg/enroll-api/api/swagger"
	"github.com/campusreg/enroll-api/internal/repository"
	"github.com/campusreg/enroll-api/internal/router"
	"github.com/campusreg/enroll-api/internal/service"
	"github.com/campusreg/enroll-api/pkg/cache"
	"github.com/campusreg/enroll-api/pkg/config"
	"github.com/campusreg/enroll-api/pkg/database"
	"github.com/campusreg/enroll-api/pkg/jobs"
	"github.com/campusreg/enroll-api/pkg/logger"
	"github.com/campusreg/enroll-api/pkg/storage"
)

// @title Course Enrollment API
// @version 1.0.0
// @description Admission-controlled course enrollment service
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

	// Redis backs the advisory seat cache and rate limiter only; the service
	// degrades to database reads when it is unreachable.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, advisory cache and rate limiting disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	validate := validator.New()

	txRunner := repository.NewTxRunner(db)
	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	instanceRepo := repository.NewCourseInstanceRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	seatCacheRepo := repository.NewSeatCacheRepository(redisClient, logr, cfg.SeatCache.TTL)

	authService := service.NewAuthService(userRepo, studentRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "enroll-api",
	})

	metricsService := service.NewMetricsService()
	instanceService := service.NewCourseInstanceService(instanceRepo, validate, logr)
	exportService := service.NewExportService(enrollmentRepo, instanceRepo, nil, nil, logr)
	exportService.SetRowLimit(cfg.Export.MaxRows)

	var exportArchive *storage.Archive
	if cfg.Export.Enabled {
		exportArchive, err = storage.NewArchive(cfg.Export.ArchiveDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export archive", "error", err)
		}
		exportService.SetArchive(exportArchive, storage.NewDownloadSigner(cfg.JWT.Secret, cfg.Export.DownloadTTL))
	}

	var seats service.SeatCache
	if cfg.SeatCache.Enabled && redisClient != nil {
		seats = seatCacheRepo
	}
	enrollmentService := service.NewEnrollmentService(txRunner, enrollmentRepo, instanceRepo, studentRepo, gradeRepo, seats, validate, logr)
	enrollmentService.SetMetrics(metricsService)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Archived exports are useless once their download token expires.
	if exportArchive != nil {
		go sweepArchive(ctx, exportArchive, cfg.Export.DownloadTTL, logr)
	}

	var seatQueue *jobs.Queue
	if cfg.SeatCache.Enabled && redisClient != nil {
		seatQueue = jobs.NewQueue("seat-cache", enrollmentService.HandleSeatRefreshJob, jobs.QueueConfig{
			Workers: cfg.SeatCache.RefreshWorkers,
			Logger:  logr,
		})
		seatQueue.Start(ctx)
		defer seatQueue.Stop()
		enrollmentService.SetSeatRefreshQueue(seatQueue)
	}

	engine := router.New(router.Dependencies{
		Config:          cfg,
		Logger:          logr,
		DB:              db,
		Redis:           redisClient,
		AuthService:     authService,
		Enrollments:     enrollmentService,
		CourseInstances: instanceService,
		Exports:         exportService,
		Metrics:         metricsService,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

func sweepArchive(ctx context.Context, archive *storage.Archive, maxAge time.Duration, logr *zap.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := archive.Sweep(maxAge)
			if err != nil {
				logr.Sugar().Warnw("export archive sweep failed", "error", err)
				continue
			}
			if len(removed) > 0 {
				logr.Sugar().Infow("swept expired exports", "count", len(removed))
			}
		}
	}
}
