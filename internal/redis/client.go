// Package redis provides the optional Redis backend for run locks and the
// feedback endpoint rate limiter.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis connection settings. KeyPrefix namespaces every lock and
// limiter key so several deployments can share one Redis.
type Config struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Client is the connection shared by JobLock and RateLimiter. Both issue a
// handful of commands per run or request, so the pool stays small.
type Client struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// New connects and pings. Callers decide whether an unreachable Redis is
// fatal: it is for LOCK_BACKEND=redis, otherwise rate limiting is skipped.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		MinIdleConns: 1,
		PoolTimeout:  4 * time.Second,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connection established",
		zap.String("addr", cfg.Addr()),
		zap.Int("db", cfg.DB),
		zap.String("key_prefix", cfg.KeyPrefix),
	)

	return &Client{rdb: rdb, prefix: cfg.KeyPrefix, logger: logger}, nil
}

// key joins the namespace, the key family and the id: "aftercare:joblock:followup_emails".
func (c *Client) key(family, id string) string {
	parts := []string{family, id}
	if c.prefix != "" {
		parts = append([]string{strings.TrimSuffix(c.prefix, ":")}, parts...)
	}
	return strings.Join(parts, ":")
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
