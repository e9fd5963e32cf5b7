package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	deliveryScheduleKey = "webhook:deliveries"
	deliveryKeyPrefix   = "webhook:delivery:"
)

// claimScript moves up to ARGV[2] due deliveries to ARGV[3] so that a
// concurrent dispatcher will not pick them up while they are in flight. If
// the claimer dies the delivery becomes due again once ARGV[3] passes.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call('ZADD', KEYS[1], ARGV[3], id)
end
return ids
`)

// DeliveryQueue holds pending webhook deliveries in a sorted set scored
// by next attempt time.
type DeliveryQueue struct {
	client *redis.Client
}

func NewDeliveryQueue(client *redis.Client) *DeliveryQueue {
	return &DeliveryQueue{client: client}
}

func deliveryKey(id string) string {
	return deliveryKeyPrefix + id
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Schedule stores d and (re)schedules it for d.NextAttemptAt.
func (q *DeliveryQueue) Schedule(ctx context.Context, d *domain.Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, deliveryKey(d.ID), data, 0)
		pipe.ZAdd(ctx, deliveryScheduleKey, redis.Z{Score: score(d.NextAttemptAt), Member: d.ID})
		return nil
	})
	return err
}

// ClaimDue returns up to limit deliveries due at now and hides them from
// other claimers for visibility.
func (q *DeliveryQueue) ClaimDue(ctx context.Context, now time.Time, limit int, visibility time.Duration) ([]*domain.Delivery, error) {
	ids, err := claimScript.Run(ctx, q.client, []string{deliveryScheduleKey},
		score(now), limit, score(now.Add(visibility)),
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	deliveries := make([]*domain.Delivery, 0, len(ids))
	for _, id := range ids {
		d, err := q.Get(ctx, id)
		if err != nil {
			return deliveries, err
		}
		if d == nil {
			if err := q.client.ZRem(ctx, deliveryScheduleKey, id).Err(); err != nil {
				return deliveries, fmt.Errorf("drop orphaned delivery %s: %w", id, err)
			}
			continue
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

func (q *DeliveryQueue) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	data, err := q.client.Get(ctx, deliveryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var d domain.Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Remove prunes a delivery that reached a terminal state.
func (q *DeliveryQueue) Remove(ctx context.Context, id string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, deliveryKey(id))
		pipe.ZRem(ctx, deliveryScheduleKey, id)
		return nil
	})
	return err
}

func (q *DeliveryQueue) Pending(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, deliveryScheduleKey).Result()
}
