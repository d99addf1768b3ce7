package inbound

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper suppresses concurrent redeliveries of the same message before they
// reach the store.
type Deduper interface {
	AcquireOnce(ctx context.Context, messageID string) bool
	Release(ctx context.Context, messageID string)
}

type RedisDeduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisDeduper {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl, logger: logger}
}

func dedupKey(messageID string) string {
	return "dedup:inbound:" + messageID
}

// AcquireOnce returns true the first time messageID is seen within the TTL.
// When Redis is unavailable it returns true and leaves the decision to the
// store's unique constraint.
func (d *RedisDeduper) AcquireOnce(ctx context.Context, messageID string) bool {
	ok, err := d.rdb.SetNX(ctx, dedupKey(messageID), 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("dedup unavailable", "message_id", messageID, "error", err)
		return true
	}
	return ok
}

// Release drops the marker so a failed delivery can be retried.
func (d *RedisDeduper) Release(ctx context.Context, messageID string) {
	if err := d.rdb.Del(ctx, dedupKey(messageID)).Err(); err != nil {
		d.logger.Warn("dedup release", "message_id", messageID, "error", err)
	}
}
