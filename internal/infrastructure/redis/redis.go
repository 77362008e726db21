package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"signflow/internal/config"
)

type RedisClient struct {
	Client *redis.Client
	logger *zap.Logger
}

func NewRedisClient(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*RedisClient, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis connected successfully",
		zap.String("addr", addr),
		zap.Int("db", cfg.Redis.DB),
	)

	rc := FromClient(client, logger)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rc.Close()
		},
	})
	return rc, nil
}

// FromClient wraps an existing client.
func FromClient(client *redis.Client, logger *zap.Logger) *RedisClient {
	return &RedisClient{Client: client, logger: logger}
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return r.Client.Set(ctx, key, value, expiration).Err()
}

// Get returns redis.Nil when the key is absent.
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return r.Client.Get(ctx, key).Result()
}

func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.Client.Del(ctx, keys...).Err()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}
