// Package main runs the background job worker that delivers vote invitation emails.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-polls/backend/config"
	"github.com/aura-polls/backend/internal/emaillogs"
	"github.com/aura-polls/backend/internal/worker"
	"github.com/aura-polls/backend/pkg/database"
	"github.com/aura-polls/backend/pkg/queue"
	"github.com/aura-polls/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var mailer worker.Mailer
	if cfg.Email.SMTPHost != "" {
		mailer = worker.NewSMTPMailer(worker.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUser,
			Password: cfg.Email.SMTPPass,
			From:     cfg.Email.FromAddress,
			FromName: cfg.Email.FromName,
		})
	} else {
		logger.Warn("SMTP_HOST not set, invitations are logged instead of sent")
		mailer = worker.NewLogMailer(logger)
	}

	jobQueue := queue.NewQueue(rdb, logger)
	processor := worker.NewInvitationProcessor(mailer, emaillogs.NewRepository(pool), jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

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
