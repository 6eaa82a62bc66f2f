// Package lock provides run guards that keep two processes from running the
// same automation at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"dialcron/internal/core"
)

// releaseScript deletes the lock only when it still holds our token.
// KEYS[1] = lock key
// ARGV[1] = owner token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const keyPrefix = "dialcron:run-lock:"

// RedisGuard implements core.RunGuard with a Redis SET NX lock per automation.
// The TTL bounds how long a crashed holder blocks other processes.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisGuard connects to redisURL and verifies the connection.
func NewRedisGuard(ctx context.Context, redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisGuard, error) {
	url := strings.TrimSpace(redisURL)
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisGuardWithClient(client, ttl, logger), nil
}

// NewRedisGuardWithClient wraps an existing client.
func NewRedisGuardWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisGuard{client: client, ttl: ttl, logger: logger.With("component", "redis-guard")}
}

// Acquire implements core.RunGuard.
func (g *RedisGuard) Acquire(ctx context.Context, automationID string) (func(), error) {
	key := keyPrefix + automationID
	token := core.NewID()
	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, core.ErrRunInProgress
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.client, []string{key}, token).Err(); err != nil {
			g.logger.Warn("release run lock", "automation_id", automationID, "err", err)
		}
	}
	return release, nil
}

// Close closes the Redis client.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
