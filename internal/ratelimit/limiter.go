package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gamassss/edgelink/internal/config"
	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/logger"
	"github.com/gamassss/edgelink/internal/metrics"
)

// Store increments a fixed-window counter, creating it with the given
// expiry on first use, and returns the new value.
type Store interface {
	Incr(ctx context.Context, key string, expireAt time.Time) (int64, error)
}

type Quota struct {
	Limit  int
	Window time.Duration
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Err converts a rejected decision into the error returned to callers.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &domain.RateLimitedError{Limit: d.Limit, Remaining: d.Remaining, ResetAt: d.ResetAt}
}

type Limiter struct {
	store    Store
	quotas   map[domain.PlanTier]Quota
	failOpen bool
	now      func() time.Time
}

func NewLimiter(store Store, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		store: store,
		quotas: map[domain.PlanTier]Quota{
			domain.PlanAnonymous: {Limit: cfg.AnonymousLimit, Window: cfg.AnonymousWindow},
			domain.PlanFree:      {Limit: cfg.FreeLimit, Window: cfg.FreeWindow},
			domain.PlanPro:       {Limit: cfg.ProLimit, Window: cfg.ProWindow},
		},
		failOpen: cfg.FailOpen,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) QuotaFor(tier domain.PlanTier) Quota {
	if q, ok := l.quotas[tier]; ok {
		return q
	}
	return l.quotas[domain.PlanAnonymous]
}

// Key is the counter key for identity in the window starting at windowStart.
func Key(identity string, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", identity, windowStart.Unix())
}

// Allow counts one request for identity against its plan's quota. Every
// identity has its own counter so callers never contend with each other.
func (l *Limiter) Allow(ctx context.Context, identity domain.Identity) (Decision, error) {
	tier := identity.EffectiveTier()
	quota := l.QuotaFor(tier)

	now := l.now()
	windowStart := now.Truncate(quota.Window)
	resetAt := windowStart.Add(quota.Window)

	count, err := l.store.Incr(ctx, Key(identity.Key(), windowStart), resetAt)
	if err != nil {
		if l.failOpen {
			logger.FromContext(ctx).Warn("Rate limit store unavailable, allowing request",
				slog.String("identity", identity.Key()),
				slog.String("error", err.Error()),
			)
			return Decision{Allowed: true, Limit: quota.Limit, Remaining: quota.Limit, ResetAt: resetAt}, nil
		}
		return Decision{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	remaining := quota.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Allowed:   count <= int64(quota.Limit),
		Limit:     quota.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !decision.Allowed {
		metrics.RateLimitRejectionsTotal.WithLabelValues(string(tier)).Inc()
	}

	return decision, nil
}
