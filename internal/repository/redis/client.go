package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTownMapTTL = 5 * time.Minute

// Client wraps the Redis client for cached map state.
type Client struct {
	rdb        *redis.Client
	townMapTTL time.Duration
}

// NewClient creates a Redis client from a connection URL.
func NewClient(redisURL string, townMapTTL time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if townMapTTL <= 0 {
		townMapTTL = defaultTownMapTTL
	}
	return &Client{rdb: rdb, townMapTTL: townMapTTL}, nil
}

// NewClientFromPool wraps an existing redis.Client for use in tests.
func NewClientFromPool(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, townMapTTL: defaultTownMapTTL}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
