package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gamassss/edgelink/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client, mr
}

func TestLinkCache_SetGetDelete(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewLinkCache(client)
	ctx := context.Background()

	maxClicks := int64(5)
	link := &domain.Link{
		ID:          7,
		Slug:        "abc123",
		Destination: "https://example.com",
		MaxClicks:   &maxClicks,
		ClickCount:  2,
		Routing: &domain.Routing{
			Geo:      &domain.GeoRule{Countries: map[string]string{"US": "https://us.example.com"}, Default: "https://intl.example.com"},
			Referrer: &domain.ReferrerRule{Entries: []domain.ReferrerEntry{{Domain: "b.com", Destination: "https://b"}, {Domain: "a.com", Destination: "https://a"}}},
		},
	}

	require.NoError(t, cache.Set(ctx, link, 10*time.Minute))
	assert.Equal(t, 10*time.Minute, mr.TTL("link:abc123"))

	got, err := cache.Get(ctx, "", "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, link.Destination, got.Destination)
	assert.Equal(t, int64(5), *got.MaxClicks)
	assert.Equal(t, "https://us.example.com", got.Routing.Geo.Countries["US"])
	assert.Equal(t, "b.com", got.Routing.Referrer.Entries[0].Domain, "referrer order survives the cache")

	require.NoError(t, cache.Delete(ctx, "", "abc123"))
	got, err = cache.Get(ctx, "", "abc123")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestLinkCache_DomainScopes(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewLinkCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, &domain.Link{Slug: "promo", Destination: "https://default"}, time.Minute))
	require.NoError(t, cache.Set(ctx, &domain.Link{Slug: "promo", CustomDomain: "go.acme.com", Destination: "https://acme"}, time.Minute))

	def, err := cache.Get(ctx, "", "promo")
	require.NoError(t, err)
	acme, err := cache.Get(ctx, "go.acme.com", "promo")
	require.NoError(t, err)

	assert.Equal(t, "https://default", def.Destination)
	assert.Equal(t, "https://acme", acme.Destination)
}

func TestLinkCache_NonPositiveTTLSkipsWrite(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewLinkCache(client)

	require.NoError(t, cache.Set(context.Background(), &domain.Link{Slug: "gone"}, 0))
	assert.False(t, mr.Exists("link:gone"))
}

func TestLinkCache_InvalidJSON(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "link:invalid", "not-valid-json", time.Minute).Err())

	got, err := NewLinkCache(client).Get(ctx, "", "invalid")
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestRateLimitStore_IncrSetsExpiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	now := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	mr.SetTime(now)
	store := NewRateLimitStore(client)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := store.Incr(ctx, "ratelimit:ip:x:1", now.Add(30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	assert.Equal(t, 30*time.Minute, mr.TTL("ratelimit:ip:x:1"))
}

func TestAnalyticsStream_Write(t *testing.T) {
	client, _ := setupTestRedis(t)
	stream := NewAnalyticsStream(client, "analytics:events", 1000)
	ctx := context.Background()

	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	for _, matched := range []string{"device:mobile", "device:mobile", "fallback"} {
		require.NoError(t, stream.Write(ctx, &domain.RedirectEvent{
			LinkID:             9,
			Slug:               "abc123",
			Timestamp:          ts,
			RoutingRuleMatched: matched,
		}))
	}

	entries, err := client.XRange(ctx, "analytics:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "abc123", entries[0].Values["slug"])
	assert.Equal(t, ts.Format(time.RFC3339Nano), entries[0].Values["timestamp"])

	matches, err := stream.RuleMatches(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"device:mobile": 2, "fallback": 1}, matches)

	require.NoError(t, stream.ResetRuleMatches(ctx, 9, "device:mobile"))
	matches, err = stream.RuleMatches(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"fallback": 1}, matches)
}

func TestDeliveryQueue_ClaimDue(t *testing.T) {
	client, _ := setupTestRedis(t)
	queue := NewDeliveryQueue(client)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{-time.Second, 0, time.Minute} {
		require.NoError(t, queue.Schedule(ctx, &domain.Delivery{
			ID:            fmt.Sprintf("d%d", i),
			WebhookID:     "wh",
			EventType:     domain.EventLinkClicked,
			NextAttemptAt: now.Add(offset),
		}))
	}

	claimed, err := queue.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "d0", claimed[0].ID)
	assert.Equal(t, "d1", claimed[1].ID)

	again, err := queue.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed deliveries are hidden until visibility expires")

	later, err := queue.ClaimDue(ctx, now.Add(time.Minute), 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, later, 3, "unfinished claims become due again")

	require.NoError(t, queue.Remove(ctx, "d0"))
	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	d, err := queue.Get(ctx, "d0")
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestDeliveryQueue_ClaimLimit(t *testing.T) {
	client, _ := setupTestRedis(t)
	queue := NewDeliveryQueue(client)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, queue.Schedule(ctx, &domain.Delivery{ID: fmt.Sprintf("d%d", i), NextAttemptAt: now.Add(-time.Duration(i) * time.Second)}))
	}

	claimed, err := queue.ClaimDue(ctx, now, 2, time.Minute)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func TestDeliveryQueue_DropsOrphanedIDs(t *testing.T) {
	client, _ := setupTestRedis(t)
	queue := NewDeliveryQueue(client)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, client.ZAdd(ctx, deliveryScheduleKey, redis.Z{Score: score(now.Add(-time.Second)), Member: "ghost"}).Err())

	claimed, err := queue.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

// failingHook fails every command with the given name.
type failingHook struct {
	name string
	err  error
}

func (h failingHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h failingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == h.name {
			cmd.SetErr(h.err)
			return h.err
		}
		return next(ctx, cmd)
	}
}

func (h failingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestDeliveryQueue_OrphanRemovalErrorIsReturned(t *testing.T) {
	client, _ := setupTestRedis(t)
	queue := NewDeliveryQueue(client)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, client.ZAdd(ctx, deliveryScheduleKey, redis.Z{Score: score(now.Add(-time.Second)), Member: "ghost"}).Err())

	errDown := errors.New("connection reset")
	client.AddHook(failingHook{name: "zrem", err: errDown})

	claimed, err := queue.ClaimDue(ctx, now, 10, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)
	assert.Contains(t, err.Error(), "ghost")
	assert.Empty(t, claimed)
}
