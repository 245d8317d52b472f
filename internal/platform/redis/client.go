// Package redis opens the shared counter connection used by the redis
// window backend.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quotaguard/internal/platform/config"
)

const healthTimeout = time.Second

// Client embeds go-redis so stores can issue commands directly.
type Client struct {
	*redis.Client
}

// New dials cfg.URL and pings it. An empty URL returns (nil, nil).
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	applyPool(opts, cfg)

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return &Client{Client: rdb}, nil
}

// applyPool overrides go-redis defaults with any non-zero settings.
func applyPool(opts *redis.Options, cfg config.RedisConfig) {
	setIf(&opts.PoolSize, cfg.PoolSize)
	setIf(&opts.MinIdleConns, cfg.MinIdleConns)
	setIf(&opts.DialTimeout, cfg.DialTimeout)
	setIf(&opts.ReadTimeout, cfg.ReadTimeout)
	setIf(&opts.WriteTimeout, cfg.WriteTimeout)
}

func setIf[T int | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// Health pings with a short deadline of its own.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return c.Ping(ctx).Err()
}
