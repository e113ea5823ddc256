package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	RedisMaxRetries   = 3
	RedisDialTimeout  = 5 * time.Second
	RedisPoolSize     = 4
	RedisMinIdleConns = 1
)

func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis URL: %w", err)
	}

	// Tune for a single-session edge agent: a small pool is plenty, and a
	// few retries ride out brief hiccups in the local store
	opts.MaxRetries = RedisMaxRetries
	opts.DialTimeout = RedisDialTimeout
	opts.PoolSize = RedisPoolSize
	opts.MinIdleConns = RedisMinIdleConns

	client := redis.NewClient(opts)

	// Ping the client to ensure connection is established
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error pinging redis: %w", err)
	}

	return client, nil
}
