package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gamassss/edgelink/internal/config"
	"github.com/gamassss/edgelink/internal/domain"
	redisrepo "github.com/gamassss/edgelink/internal/repository/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = config.RateLimitConfig{
	Enabled:         true,
	AnonymousLimit:  3,
	AnonymousWindow: time.Hour,
	FreeLimit:       5,
	FreeWindow:      24 * time.Hour,
	ProLimit:        10,
	ProWindow:       24 * time.Hour,
	FailOpen:        true,
}

func setupLimiter(t *testing.T, now time.Time) (*Limiter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	mr.SetTime(now)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	limiter := NewLimiter(redisrepo.NewRateLimitStore(client), testConfig).WithClock(func() time.Time { return now })
	return limiter, mr
}

func TestLimiter_RejectsLimitPlusOne(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	limiter, _ := setupLimiter(t, now)
	ctx := context.Background()
	id := domain.Identity{IPHash: "abc"}

	for i := 1; i <= 3; i++ {
		d, err := limiter.Allow(ctx, id)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 3-i, d.Remaining)
		assert.Equal(t, 3, d.Limit)
	}

	d, err := limiter.Allow(ctx, id)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), d.ResetAt)

	var rlErr *domain.RateLimitedError
	require.ErrorAs(t, d.Err(), &rlErr)
	assert.Equal(t, 3, rlErr.Limit)
}

func TestLimiter_TiersHaveOwnQuotas(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	limiter, _ := setupLimiter(t, now)
	ctx := context.Background()

	free, err := limiter.Allow(ctx, domain.Identity{UserID: "u1", Tier: domain.PlanFree})
	require.NoError(t, err)
	assert.Equal(t, 5, free.Limit)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), free.ResetAt)

	pro, err := limiter.Allow(ctx, domain.Identity{UserID: "u2", Tier: domain.PlanPro})
	require.NoError(t, err)
	assert.Equal(t, 10, pro.Limit)
	assert.Equal(t, 9, pro.Remaining)

	spoofed, err := limiter.Allow(ctx, domain.Identity{Tier: domain.PlanPro, IPHash: "x"})
	require.NoError(t, err)
	assert.Equal(t, 3, spoofed.Limit, "no user id means anonymous quota")
}

func TestLimiter_IdentitiesAreIndependent(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	limiter, _ := setupLimiter(t, now)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := limiter.Allow(ctx, domain.Identity{IPHash: "a"})
		require.NoError(t, err)
	}

	d, err := limiter.Allow(ctx, domain.Identity{IPHash: "b"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestLimiter_CounterExpiresWithWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	limiter, mr := setupLimiter(t, now)
	ctx := context.Background()
	id := domain.Identity{IPHash: "abc"}

	_, err := limiter.Allow(ctx, id)
	require.NoError(t, err)

	key := Key("ip:abc", time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 30*time.Minute, mr.TTL(key))

	mr.FastForward(31 * time.Minute)
	assert.False(t, mr.Exists(key))
}

func TestLimiter_ConcurrentRequests(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	limiter, _ := setupLimiter(t, now)
	ctx := context.Background()
	id := domain.Identity{UserID: "u1", Tier: domain.PlanPro}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Allow(ctx, id)
			assert.NoError(t, err)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Time) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestLimiter_StoreFailure(t *testing.T) {
	ctx := context.Background()

	open := NewLimiter(failingStore{}, testConfig)
	d, err := open.Allow(ctx, domain.Identity{IPHash: "a"})
	assert.NoError(t, err)
	assert.True(t, d.Allowed)

	cfg := testConfig
	cfg.FailOpen = false
	closed := NewLimiter(failingStore{}, cfg)
	_, err = closed.Allow(ctx, domain.Identity{IPHash: "a"})
	assert.Error(t, err)
}
