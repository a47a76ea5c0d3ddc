package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisExpiration = 24 * time.Hour

// Redis is a shared cache backed by a Redis instance, for deployments
// running more than one relay against the same model server.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis creates a Redis cache and verifies connectivity with a ping.
func NewRedis(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{client: client, logger: logger}, nil
}

// Get treats any Redis failure as a miss; the cache is advisory.
func (r *Redis) Get(ctx context.Context, pair, text string) (string, bool) {
	val, err := r.client.Get(ctx, Key(pair, text)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("cache get failed", zap.Error(err))
		}
		return "", false
	}
	return val, true
}

func (r *Redis) Put(ctx context.Context, pair, text, translation string) {
	if err := r.client.Set(ctx, Key(pair, text), translation, redisExpiration).Err(); err != nil {
		r.logger.Warn("cache put failed", zap.Error(err))
	}
}

// Close releases the client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
