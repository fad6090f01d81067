package dedupe

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard shares seen keys between processes.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisGuard builds a guard storing keys under prefix.
func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) Seen(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, g.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *RedisGuard) Mark(ctx context.Context, key string) error {
	return g.client.Set(ctx, g.prefix+key, time.Now().Unix(), g.ttl).Err()
}
