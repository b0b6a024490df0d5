package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailpilot-backend/pkg/config"
)

// NewClient connects to the key-value store backing processing locks,
// history cursors and the deferred-message queues.
func NewClient(cfg *config.Config) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}
