package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still carries our token, so an
// expired lock re-acquired by another worker is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker on top of SET NX with a per-acquisition
// token. It is safe to share across workers pointing at the same Redis.
type RedisLocker struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisLocker(ctx context.Context, url string, logger *slog.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLocker{
		client: client,
		logger: logger.With("module", "redis_locker"),
	}, nil
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	token := uuid.New().String()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) {
		err := releaseScript.Run(ctx, r.client, []string{key}, token).Err()
		if err != nil && err != redis.Nil {
			r.logger.ErrorContext(ctx, "Failed to release lock", "key", key, "error", err)
		}
	}

	return release, true, nil
}

func (r *RedisLocker) Close() error {
	return r.client.Close()
}
