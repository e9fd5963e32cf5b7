package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type RateLimitStore struct {
	client *redis.Client
}

func NewRateLimitStore(client *redis.Client) *RateLimitStore {
	return &RateLimitStore{client: client}
}

// Incr bumps the counter and sets its expiry in one MULTI/EXEC so a
// counter is never left without a TTL.
func (s *RateLimitStore) Incr(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	var incr *redis.IntCmd

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, expireAt)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return incr.Val(), nil
}
