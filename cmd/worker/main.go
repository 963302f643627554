// Package main runs the background worker: recording discovery and status
// sweeps, media internalization, and host notifications.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campusconf/backend/config"
	"github.com/campusconf/backend/internal/meetings"
	"github.com/campusconf/backend/internal/notifier"
	"github.com/campusconf/backend/internal/poller"
	"github.com/campusconf/backend/internal/recordings"
	"github.com/campusconf/backend/internal/users"
	"github.com/campusconf/backend/internal/webex"
	"github.com/campusconf/backend/internal/worker"
	"github.com/campusconf/backend/pkg/database"
	"github.com/campusconf/backend/pkg/queue"
	"github.com/campusconf/backend/pkg/redis"
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

	emailLog := notifier.NewRepository(pool)
	sender := notifier.NewSMTPSender(cfg.Email)
	notifyService, err := notifier.NewService(recordingService, meetingService, userService, session,
		sender, emailLog, cfg.Recording.NotifyPolicy, cfg.Email, logger)
	if err != nil {
		logger.Fatal("notifier", zap.Error(err))
	}

	downloader := worker.NewDownloader(recordingService, s3Client, cfg.Recording, logger)
	w := worker.New(jobQueue, downloader, notifyService, logger)
	sweeper := poller.New(session, recordingService, meetingService, jobQueue, rdb, cfg.Recording, logger)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(runCtx)
	go sweeper.Run(runCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
