package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// SentLedger remembers which orders already had their deliverable e-mailed.
type SentLedger interface {
	Sent(ctx context.Context, merchantOrderID string) (bool, error)
	MarkSent(ctx context.Context, merchantOrderID string, ttl time.Duration) error
}

// RedisLedger stores sent markers as plain Redis keys.
type RedisLedger struct {
	Client *redis.Client
	Prefix string
}

func (r RedisLedger) key(id string) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = "delivery:sent:"
	}
	return prefix + id
}

// Sent reports whether a marker exists for the order.
func (r RedisLedger) Sent(ctx context.Context, merchantOrderID string) (bool, error) {
	if r.Client == nil {
		return false, nil
	}
	n, err := r.Client.Exists(ctx, r.key(merchantOrderID)).Result()
	return n > 0, err
}

// MarkSent records the order as delivered for ttl.
func (r RedisLedger) MarkSent(ctx context.Context, merchantOrderID string, ttl time.Duration) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Set(ctx, r.key(merchantOrderID), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}
