package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"signflow/internal/config"
	"signflow/internal/domain/repository"
)

const tokenKeyPrefix = "signflow:token:"

type tokenCache struct {
	client *RedisClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewTokenCache(client *RedisClient, cfg *config.Config, logger *zap.Logger) repository.TokenCache {
	return &tokenCache{
		client: client,
		ttl:    cfg.Redis.TokenTTL,
		logger: logger,
	}
}

// tokenKey hashes the token so plaintext tokens never appear in the keyspace.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return tokenKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *tokenCache) Get(ctx context.Context, token string) (string, bool, error) {
	ref, err := c.client.Get(ctx, tokenKey(token))
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read token cache: %w", err)
	}
	return ref, true, nil
}

func (c *tokenCache) Set(ctx context.Context, token, ref string) error {
	if err := c.client.Set(ctx, tokenKey(token), ref, c.ttl); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	return nil
}

func (c *tokenCache) Delete(ctx context.Context, tokens ...string) error {
	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		keys = append(keys, tokenKey(t))
	}
	if err := c.client.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to evict tokens: %w", err)
	}
	c.logger.Debug("Evicted access tokens", zap.Int("count", len(keys)))
	return nil
}
