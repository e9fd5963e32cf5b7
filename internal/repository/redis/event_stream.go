package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AnalyticsStream is the primary analytics sink: one stream entry per
// redirect plus a per-link hash of rule match counters.
type AnalyticsStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewAnalyticsStream(client *redis.Client, stream string, maxLen int64) *AnalyticsStream {
	return &AnalyticsStream{client: client, stream: stream, maxLen: maxLen}
}

func statsKey(linkID int64) string {
	return "stats:link:" + strconv.FormatInt(linkID, 10)
}

func (s *AnalyticsStream) Write(ctx context.Context, event *domain.RedirectEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"slug":      event.Slug,
				"link_id":   event.LinkID,
				"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
				"event":     data,
			},
		})
		pipe.HIncrBy(ctx, statsKey(event.LinkID), event.RoutingRuleMatched, 1)
		return nil
	})
	return err
}

func (s *AnalyticsStream) RuleMatches(ctx context.Context, linkID int64) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, statsKey(linkID)).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// ResetRuleMatches clears the A/B counters when a test is replaced.
func (s *AnalyticsStream) ResetRuleMatches(ctx context.Context, linkID int64, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.HDel(ctx, statsKey(linkID), keys...).Err()
}
