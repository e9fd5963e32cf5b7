package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/logger"
	"github.com/gamassss/edgelink/internal/metrics"
)

type LinkRepository interface {
	Create(ctx context.Context, link *domain.Link) error
	GetBySlug(ctx context.Context, domainScope, slug string) (*domain.Link, error)
	Update(ctx context.Context, link *domain.Link) error
	Rename(ctx context.Context, link *domain.Link, newSlug string) error
	Delete(ctx context.Context, id int64) error
	IncrementClicks(ctx context.Context, id int64) (int64, bool, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Link, error)
	CountByOwner(ctx context.Context, ownerID string) (int64, error)
}

type CacheRepository interface {
	Get(ctx context.Context, domainScope, slug string) (*domain.Link, error)
	Set(ctx context.Context, link *domain.Link, ttl time.Duration) error
	Delete(ctx context.Context, domainScope, slug string) error
}

// LinkResolver reads links through the cache. Postgres stays
// authoritative: writes go there first and then drop the cache entry.
type LinkResolver struct {
	repo  LinkRepository
	cache CacheRepository
	ttl   time.Duration
	now   func() time.Time
}

func NewLinkResolver(repo LinkRepository, cache CacheRepository, ttl time.Duration) *LinkResolver {
	return &LinkResolver{repo: repo, cache: cache, ttl: ttl, now: time.Now}
}

// Resolve returns domain.ErrNotFound when the slug does not exist in the
// scope. Cache failures degrade to a Postgres read.
func (r *LinkResolver) Resolve(ctx context.Context, domainScope, slug string) (*domain.Link, error) {
	log := logger.FromContext(ctx)

	link, err := r.cache.Get(ctx, domainScope, slug)
	if err != nil {
		log.Warn("Link cache read failed",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
	}
	if link != nil {
		metrics.CacheHitsTotal.WithLabelValues("link").Inc()
		return link, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("link").Inc()

	link, err = r.repo.GetBySlug(ctx, domainScope, slug)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, link, r.cacheTTL(link)); err != nil {
		log.Warn("Link cache write failed",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
	}
	return link, nil
}

// cacheTTL never lets an entry outlive the link's expiry.
func (r *LinkResolver) cacheTTL(link *domain.Link) time.Duration {
	ttl := r.ttl
	if link.ExpiresAt != nil {
		if until := link.ExpiresAt.Sub(r.now()); until < ttl {
			ttl = until
		}
	}
	return ttl
}

func (r *LinkResolver) Invalidate(ctx context.Context, domainScope, slug string) {
	if err := r.cache.Delete(ctx, domainScope, slug); err != nil {
		logger.FromContext(ctx).Error("Link cache invalidation failed",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
	}
}
