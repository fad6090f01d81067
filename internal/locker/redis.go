package locker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockExpired is returned by Lock when ttl is not positive.
var ErrLockExpired = errors.New("lock ttl must be positive")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker holds locks as SET NX keys with a TTL so a crashed holder cannot
// block others forever.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker builds a locker storing keys under prefix.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, retry: 25 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.ttl <= 0 {
		return nil, ErrLockExpired
	}
	name := l.prefix + key
	token := uuid.NewString()
	wait := l.retry

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait < 400*time.Millisecond {
			wait *= 2
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{name}, token).Err()
	}, nil
}
