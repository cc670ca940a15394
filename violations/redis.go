package violations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// RedisNotifier publishes notifications as JSON on a Redis channel
type RedisNotifier struct {
	rdb     publisher
	channel string
}

// NewRedisNotifier connects to addr and verifies the connection
func NewRedisNotifier(addr, channel string) (*RedisNotifier, *goredis.Client, error) {
	if addr == "" {
		return nil, nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = "salesaudit.violations"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisNotifier{rdb: rdb, channel: channel}, rdb, nil
}

// Notify publishes n
func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	if r == nil || r.rdb == nil {
		return fmt.Errorf("redis notifier not initialized")
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, raw).Err()
}
