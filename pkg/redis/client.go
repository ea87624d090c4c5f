// Package redis is the thin go-redis layer under the retrieval result
// cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/config"
)

// ErrMiss is returned by Get for an absent or expired key.
var ErrMiss = errors.New("redis: cache miss")

const scanPage = 100

type Client struct {
	rdb *redis.Client
}

// NewClient connects and fails fast when the server does not answer PING
// within five seconds.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

// Set stores value under key. A zero ttl keeps it until evicted.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// DeletePrefix removes every key starting with prefix. Keys are found with
// SCAN and unlinked one page per pipeline, so the server is never blocked
// on a single large command. It returns how many keys were removed.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var (
		removed int64
		cursor  uint64
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", scanPage).Result()
		if err != nil {
			return removed, fmt.Errorf("scanning %q: %w", prefix, err)
		}
		if len(keys) > 0 {
			cmds, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
				for _, k := range keys {
					p.Unlink(ctx, k)
				}
				return nil
			})
			if err != nil {
				return removed, fmt.Errorf("unlinking %d keys under %q: %w", len(keys), prefix, err)
			}
			for _, cmd := range cmds {
				removed += cmd.(*redis.IntCmd).Val()
			}
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

func (c *Client) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

func (c *Client) Close() error { return c.rdb.Close() }
