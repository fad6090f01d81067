package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/config"
)

// ErrRedisDisabled is returned by Ping when no address is configured.
var ErrRedisDisabled = errors.New("redis client not configured")

const redisProbeTimeout = 2 * time.Second

// Redis holds the client shared by the conversation locker and the inbound
// dedupe guard. Client is nil when REDIS_ADDR is empty.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds the client without failing startup: an unreachable server is
// logged and the caller decides through Available whether to fall back to the
// in-process locker and dedupe cache.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if !cfg.Enabled() {
		logger.Warn("REDIS_ADDR not provided; using in-process locks and dedupe")
		return &Redis{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   "chatdesk",
		DialTimeout:  redisProbeTimeout,
		ReadTimeout:  redisProbeTimeout,
		WriteTimeout: redisProbeTimeout,
	})
	r := &Redis{Client: client}

	ctx, cancel := context.WithTimeout(context.Background(), redisProbeTimeout)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		logger.Warn("unable to reach redis", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	}
	return r
}

// Available reports whether a client exists and answers a ping in time.
func (r *Redis) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, redisProbeTimeout)
	defer cancel()
	return r.Ping(ctx) == nil
}

func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return ErrRedisDisabled
	}
	return r.Client.Ping(ctx).Err()
}
