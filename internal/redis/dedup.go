package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers handled keys for a while so redelivered work can be
// skipped early. A miss only costs a repeated idempotent operation.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type redisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisDeduper(client *redis.Client, prefix string, ttl time.Duration) Deduper {
	return &redisDeduper{client: client, ttl: ttl, prefix: prefix}
}

func (d *redisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check marker: %w", err)
	}
	return n > 0, nil
}

func (d *redisDeduper) Mark(ctx context.Context, key string) error {
	if err := d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), d.ttl).Err(); err != nil {
		return fmt.Errorf("set marker: %w", err)
	}
	return nil
}

// NoopDeduper never remembers anything.
type NoopDeduper struct{}

func (NoopDeduper) Seen(context.Context, string) (bool, error) { return false, nil }
func (NoopDeduper) Mark(context.Context, string) error         { return nil }
