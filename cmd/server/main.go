// Package main runs the polls HTTP server with live tallies over WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-polls/backend/config"
	"github.com/aura-polls/backend/internal/auth"
	"github.com/aura-polls/backend/internal/emaillogs"
	"github.com/aura-polls/backend/internal/memstore"
	"github.com/aura-polls/backend/internal/polls"
	"github.com/aura-polls/backend/internal/realtime"
	"github.com/aura-polls/backend/internal/votelinks"
	"github.com/aura-polls/backend/internal/voting"
	"github.com/aura-polls/backend/pkg/database"
	"github.com/aura-polls/backend/pkg/queue"
	"github.com/aura-polls/backend/pkg/redis"
	"github.com/aura-polls/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	// Redis carries cross-instance tallies and the invitation queue. The memory driver runs without it.
	var rdb *goredis.Client
	rdb, err = redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		if cfg.Voting.StorageDriver != "memory" {
			logger.Fatal("redis", zap.Error(err))
		}
		logger.Warn("redis unavailable, running single instance without invitations", zap.Error(err))
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var hub *realtime.Hub
	if rdb != nil {
		ps := realtime.NewRedisPubSub(rdb, logger)
		hub = realtime.NewHub(logger, ps, ps)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}

	d := deps{
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSAllowedOrigins,
		JWT:         auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessTTL()),
		Hub:         hub,
		BaseURL:     cfg.Server.PublicBaseURL,
		MaxBulk:     cfg.Voting.MaxBulkLinks,
	}
	if rdb != nil {
		q := queue.NewQueue(rdb, logger)
		d.Invitations, d.Queue = q, q
	}

	var (
		users   auth.UserStore
		tokens  auth.RefreshTokenStore
		ballots voting.Store
	)
	switch cfg.Voting.StorageDriver {
	case "memory":
		store := memstore.New()
		users, tokens, ballots = memstore.NewUsers(), memstore.NewRefreshTokens(), store
		d.Polls, d.Ledger = store, store
		logger.Warn("using in-memory storage; data is lost on restart")
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		users, tokens, ballots = auth.NewRepository(pool), auth.NewRefreshRepository(pool), voting.NewPostgresStore(pool)
		d.Polls, d.Ledger = polls.NewRepository(pool), votelinks.NewRepository(pool)
		d.EmailLogs = emaillogs.NewRepository(pool)
	}

	d.Auth = auth.NewService(users, tokens, d.JWT, cfg.JWT.RefreshTTL(), cfg.JWT.RefreshTokenBytes, logger)
	d.Coordinator = voting.NewCoordinator(ballots, logger,
		voting.WithCommitTimeout(cfg.Voting.CommitTimeout()),
		voting.WithPublisher(hub),
	)

	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 unavailable, exports disabled", zap.Error(err))
		} else {
			d.Exporter = s3Client
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(d),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("storage", cfg.Voting.StorageDriver))
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
