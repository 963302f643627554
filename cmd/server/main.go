// Package main runs the conferencing activity HTTP API with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campusconf/backend/config"
	"github.com/campusconf/backend/internal/meetings"
	"github.com/campusconf/backend/internal/middleware"
	"github.com/campusconf/backend/internal/notifier"
	"github.com/campusconf/backend/internal/recordings"
	"github.com/campusconf/backend/internal/users"
	"github.com/campusconf/backend/internal/webex"
	"github.com/campusconf/backend/pkg/database"
	"github.com/campusconf/backend/pkg/queue"
	"github.com/campusconf/backend/pkg/redis"
	"github.com/campusconf/backend/pkg/response"
	"github.com/campusconf/backend/pkg/secrets"
	"github.com/campusconf/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		RecordingsBucket:     cfg.AWS.RecordingsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	box, err := secrets.New(cfg.Webex.SecretKey)
	if err != nil {
		logger.Fatal("secrets", zap.Error(err))
	}

	// Accounts and the provider session reference each other: the session
	// reads stored credentials, the account service provisions through the
	// session. The remote side is wired in after construction.
	userRepo := users.NewRepository(pool)
	userService := users.NewService(userRepo, box, logger)
	transport := webex.NewTransport(cfg.Webex.ServiceURL(), cfg.Webex.CallTimeout, logger)
	session := webex.NewSession(cfg.Webex, transport, userService, logger)
	userService.SetRemote(session)

	jobQueue := queue.NewQueue(rdb.Client, logger)

	meetingRepo := meetings.NewRepository(pool)
	meetingService := meetings.NewService(meetingRepo, session, jobQueue, cfg.Recording.GraceMinutes, logger)

	recordingRepo := recordings.NewRepository(pool)
	recordingService := recordings.NewService(recordingRepo, meetingService, session, s3Client, cfg.Recording, logger)
	meetingService.SetRecordingCascade(recordingService)

	meetingHandler := meetings.NewHandler(meetingService, userService, logger)
	recordingHandler := recordings.NewHandler(recordingService, jobQueue, s3Client, logger)
	notificationHandler := notifier.NewHandler(notifier.NewRepository(pool), logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	api := router.Group("")
	api.Use(middleware.JWT(cfg.JWT.Secret))
	{
		// Meetings
		api.POST("/meetings", middleware.RequireRole("teacher", "admin"), meetingHandler.Create)
		api.GET("/meetings/:id", meetingHandler.Get)
		api.PATCH("/meetings/:id", middleware.RequireRole("teacher", "admin"), meetingHandler.Update)
		api.DELETE("/meetings/:id", middleware.RequireRole("teacher", "admin"), meetingHandler.Delete)
		api.POST("/meetings/:id/refresh", middleware.RequireRole("teacher", "admin"), meetingHandler.Refresh)
		api.GET("/meetings/:id/join", meetingHandler.Join)
		api.POST("/meetings/:id/hosts", middleware.RequireRole("teacher", "admin"), meetingHandler.AddHost)
		api.GET("/courses/:course/meetings", meetingHandler.ListByCourse)

		// Recordings
		api.GET("/meetings/:id/recordings", recordingHandler.ListByMeeting)
		api.GET("/recordings/:id", recordingHandler.Get)
		api.GET("/recordings/:id/download-url", recordingHandler.DownloadURL)
		api.PATCH("/recordings/:id/visibility", middleware.RequireRole("teacher", "admin"), recordingHandler.SetVisibility)
		api.DELETE("/recordings/:id", middleware.RequireRole("teacher", "admin"), recordingHandler.Delete)
		api.POST("/recordings/:id/restore", middleware.RequireRole("teacher", "admin"), recordingHandler.Restore)

		// Admin
		api.GET("/recordings", middleware.RequireRole("admin"), recordingHandler.List)
		api.DELETE("/recordings/:id/permanent", middleware.RequireRole("admin"), recordingHandler.Purge)
		api.POST("/recordings/:id/download", middleware.RequireRole("admin"), recordingHandler.TriggerDownload)
		api.POST("/recordings/:id/notify", middleware.RequireRole("admin"), recordingHandler.TriggerNotify)
		api.GET("/recordings/:id/notifications", middleware.RequireRole("admin"), notificationHandler.ListByRecording)
		api.POST("/recordings/:id/association/refresh", middleware.RequireRole("admin"), recordingHandler.RefreshAssociation)
		api.POST("/recordings/bulk/:action", middleware.RequireRole("admin"), recordingHandler.Bulk)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
