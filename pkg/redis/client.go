package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options configures NewClient.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient creates a go-redis client and verifies connectivity.
func NewClient(ctx context.Context, opts Options, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Redis client connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return rdb, nil
}

// Key joins key segments with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
