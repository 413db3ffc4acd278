package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cie-bench/harness/pkg/logger"
)

const judgePrefix = "judge:"

// Client caches raw judge replies so reruns with identical requests skip the API.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
		zap.Duration("ttl", ttl),
	)

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetJudgement(ctx context.Context, key, raw string) error {
	err := c.client.Set(ctx, judgePrefix+key, raw, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set judgement cache: %w", err)
	}

	logger.Debug("Judgement cached", zap.String("key", key), zap.Duration("ttl", c.ttl))
	return nil
}

func (c *Client) GetJudgement(ctx context.Context, key string) (string, bool, error) {
	raw, err := c.client.Get(ctx, judgePrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get judgement cache: %w", err)
	}

	logger.Debug("Judgement cache hit", zap.String("key", key))
	return raw, true, nil
}

// Invalidate drops every cached judgement, e.g. after the prompt template changes.
func (c *Client) Invalidate(ctx context.Context) (int, error) {
	deleted := 0
	iter := c.client.Scan(ctx, 0, judgePrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Judgement cache invalidated", zap.Int("deleted", deleted))
	return deleted, nil
}
