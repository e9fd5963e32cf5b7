package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/mocks"
	"github.com/gamassss/edgelink/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const iPhoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148 Safari/604.1"

var fixedNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

type redirectMocks struct {
	repo      *mocks.MockLinkRepository
	cache     *mocks.MockCacheRepository
	publisher *mocks.MockEventPublisher
}

func setupRedirectService() (*RedirectService, redirectMocks) {
	m := redirectMocks{
		repo:      new(mocks.MockLinkRepository),
		cache:     new(mocks.MockCacheRepository),
		publisher: new(mocks.MockEventPublisher),
	}
	resolver := NewLinkResolver(m.repo, m.cache, time.Hour)
	svc := NewRedirectService(resolver, m.repo, m.publisher, tasks.Inline{}).
		WithClock(func() time.Time { return fixedNow })
	return svc, m
}

func (m redirectMocks) assertExpectations(t *testing.T) {
	m.repo.AssertExpectations(t)
	m.cache.AssertExpectations(t)
	m.publisher.AssertExpectations(t)
}

func visitor() domain.Identity {
	return domain.Identity{IPHash: "iphash"}
}

func TestResolve_CacheHit(t *testing.T) {
	svc, m := setupRedirectService()
	ctx := context.Background()
	link := &domain.Link{ID: 1, Slug: "abc123", Destination: "https://example.com"}

	m.cache.On("Get", ctx, "", "abc123").Return(link, nil).Once()
	m.repo.On("IncrementClicks", mock.Anything, int64(1)).Return(int64(1), true, nil).Once()
	m.publisher.On("PublishRedirect", mock.Anything, mock.MatchedBy(func(e *domain.RedirectEvent) bool {
		return e.LinkID == 1 && e.Slug == "abc123" && e.IPHash == "iphash" &&
			e.RoutingRuleMatched == "fallback" && e.Timestamp.Equal(fixedNow)
	})).Return(nil).Once()

	res, err := svc.Resolve(ctx, RedirectRequest{Slug: "abc123", Identity: visitor()})

	require.NoError(t, err)
	assert.Equal(t, "https://example.com", res.Location)
	assert.Equal(t, "fallback", res.Matched)
	m.repo.AssertNotCalled(t, "GetBySlug", mock.Anything, mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestResolve_CacheMissPopulatesCacheUntilExpiry(t *testing.T) {
	svc, m := setupRedirectService()
	ctx := context.Background()
	expires := fixedNow.Add(10 * time.Minute)
	link := &domain.Link{ID: 2, Slug: "soon", CustomDomain: "go.acme.com", Destination: "https://example.com", ExpiresAt: &expires}

	m.cache.On("Get", ctx, "go.acme.com", "soon").Return(nil, nil).Once()
	m.repo.On("GetBySlug", ctx, "go.acme.com", "soon").Return(link, nil).Once()
	m.cache.On("Set", ctx, link, 10*time.Minute).Return(nil).Once()
	m.repo.On("IncrementClicks", mock.Anything, int64(2)).Return(int64(1), true, nil).Once()
	m.publisher.On("PublishRedirect", mock.Anything, mock.Anything).Return(nil).Once()

	res, err := svc.Resolve(ctx, RedirectRequest{DomainScope: "go.acme.com", Slug: "soon", Identity: visitor()})

	require.NoError(t, err)
	assert.Equal(t, "https://example.com", res.Location)
	m.assertExpectations(t)
}

func TestResolve_CacheErrorFallsBackToStore(t *testing.T) {
	svc, m := setupRedirectService()
	ctx := context.Background()
	link := &domain.Link{ID: 3, Slug: "abc", Destination: "https://example.com"}

	m.cache.On("Get", ctx, "", "abc").Return(nil, errors.New("redis down")).Once()
	m.repo.On("GetBySlug", ctx, "", "abc").Return(link, nil).Once()
	m.cache.On("Set", ctx, link, time.Hour).Return(errors.New("redis down")).Once()
	m.repo.On("IncrementClicks", mock.Anything, int64(3)).Return(int64(1), true, nil).Once()
	m.publisher.On("PublishRedirect", mock.Anything, mock.Anything).Return(nil).Once()

	res, err := svc.Resolve(ctx, RedirectRequest{Slug: "abc", Identity: visitor()})

	require.NoError(t, err)
	assert.Equal(t, "https://example.com", res.Location)
	m.assertExpectations(t)
}

func TestResolve_NotFound(t *testing.T) {
	svc, m := setupRedirectService()
	ctx := context.Background()

	m.cache.On("Get", ctx, "", "missing").Return(nil, nil).Once()
	m.repo.On("GetBySlug", ctx, "", "missing").Return(nil, domain.ErrNotFound).Once()

	res, err := svc.Resolve(ctx, RedirectRequest{Slug: "missing", Identity: visitor()})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	m.publisher.AssertNotCalled(t, "PublishRedirect", mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestResolve_ExpiredFailsClosed(t *testing.T) {
	past := fixedNow.Add(-time.Second)
	maxClicks := int64(5)

	tests := []struct {
		name string
		link *domain.Link
	}{
		{"past expires_at", &domain.Link{ID: 1, Slug: "x", Destination: "https://e.com", ExpiresAt: &past}},
		{"click limit reached", &domain.Link{ID: 1, Slug: "x", Destination: "https://e.com", MaxClicks: &maxClicks, ClickCount: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, m := setupRedirectService()
			ctx := context.Background()
			m.cache.On("Get", ctx, "", "x").Return(tt.link, nil).Once()

			_, err := svc.Resolve(ctx, RedirectRequest{Slug: "x", Identity: visitor()})

			assert.ErrorIs(t, err, domain.ErrExpired)
			m.repo.AssertNotCalled(t, "IncrementClicks", mock.Anything, mock.Anything)
			m.publisher.AssertNotCalled(t, "PublishRedirect", mock.Anything, mock.Anything)
		})
	}
}

func TestResolve_LastClickInvalidatesCache(t *testing.T) {
	svc, m := setupRedirectService()
	ctx := context.Background()
	maxClicks := int64(3)
	link := &domain.Link{ID: 4, Slug: "limited", Destination: "https://example.com", MaxClicks: &maxClicks, ClickCount: 2}

	m.cache.On("Get", ctx, "", "limited").Return(link, nil).Once()
	m.repo.On("IncrementClicks", mock.Anything, int64(4)).Return(int64(3), true, nil).Once()
	m.cache.On("Delete", mock.Anything, "", "limited").Return(nil).Once()
	m.publisher.On("PublishRedirect", mock.Anything, mock.Anything).Return(nil).Once()

	res, err := svc.Resolve(ctx, RedirectRequest{Slug: "limited", Identity: visitor()})

	require.NoError(t, err, "the request that reaches the limit is honored")
	assert.Equal(t, "https://example.com", res.Location)
	m.assertExpectations(t)
}

func TestResolve_MaxClicksSequence(t *testing.T) {
	for _, limit := range []int64{1, 2, 5} {
		t.Run(fmt.Sprintf("max_clicks=%d", limit), func(t *testing.T) {
			svc, m := setupRedirectService()
			ctx := context.Background()
			maxClicks := limit
			stored := domain.Link{ID: 9, Slug: "capped", Destination: "https://example.com", MaxClicks: &maxClicks}
			var cached *domain.Link

			get := m.cache.On("Get", mock.Anything, "", "capped").Return(nil, nil)
			get.Run(func(mock.Arguments) {
				if cached == nil {
					get.ReturnArguments = mock.Arguments{nil, nil}
					return
				}
				snapshot := *cached
				get.ReturnArguments = mock.Arguments{&snapshot, nil}
			})
			m.cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
				snapshot := *args.Get(1).(*domain.Link)
				cached = &snapshot
			})
			m.cache.On("Delete", mock.Anything, "", "capped").Return(nil).Run(func(mock.Arguments) {
				cached = nil
			})

			load := m.repo.On("GetBySlug", mock.Anything, "", "capped").Return(nil, nil)
			load.Run(func(mock.Arguments) {
				fresh := stored
				load.ReturnArguments = mock.Arguments{&fresh, nil}
			})
			increment := m.repo.On("IncrementClicks", mock.Anything, int64(9)).Return(int64(0), false, nil)
			increment.Run(func(mock.Arguments) {
				if stored.ClickCount >= limit {
					increment.ReturnArguments = mock.Arguments{stored.ClickCount, false, nil}
					return
				}
				stored.ClickCount++
				increment.ReturnArguments = mock.Arguments{stored.ClickCount, true, nil}
			})
			m.publisher.On("PublishRedirect", mock.Anything, mock.Anything).Return(nil)

			for i := int64(1); i <= limit; i++ {
				res, err := svc.Resolve(ctx, RedirectRequest{Slug: "capped", Identity: visitor()})
				require.NoError(t, err, "redirect %d of %d", i, limit)
				assert.Equal(t, "https://example.com", res.Location)
			}

			_, err := svc.Resolve(ctx, RedirectRequest{Slug: "capped", Identity: visitor()})
			assert.ErrorIs(t, err, domain.ErrExpired)

			assert.Equal(t, limit, stored.ClickCount)
			m.repo.AssertNumberOfCalls(t, "IncrementClicks", int(limit))
			m.publisher.AssertNumberOfCalls(t, "PublishRedirect", int(limit))
			m.cache.AssertNumberOfCalls(t, "Delete", 1)
		})
	}
}

func TestResolve_GuardRejectedIncrementInvalidatesCache(t *testing.T) {
	svc, m := setupRedirectService()
	ctx := context.Background()
	maxClicks := int64(3)
	link := &domain.Link{ID: 4, Slug: "limited", Destination: "https://example.com", MaxClicks: &maxClicks, ClickCount: 1}

	m.cache.On("Get", ctx, "", "limited").Return(link, nil).Once()
	m.repo.On("IncrementClicks", mock.Anything, int64(4)).Return(int64(0), false, nil).Once()
	m.cache.On("Delete", mock.Anything, "", "limited").Return(nil).Once()
	m.publisher.On("PublishRedirect", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := svc.Resolve(ctx, RedirectRequest{Slug: "limited", Identity: visitor()})

	require.NoError(t, err)
	m.assertExpectations(t)
}

func TestResolve_IncrementFailureIsSwallowed(t *testing.T) {
	svc, m := setupRedirectService()
	ctx := context.Background()
	link := &domain.Link{ID: 5, Slug: "abc", Destination: "https://example.com"}

	m.cache.On("Get", ctx, "", "abc").Return(link, nil).Once()
	m.repo.On("IncrementClicks", mock.Anything, int64(5)).Return(int64(0), false, errors.New("pg down")).Once()
	m.publisher.On("PublishRedirect", mock.Anything, mock.Anything).Return(nil).Once()

	res, err := svc.Resolve(ctx, RedirectRequest{Slug: "abc", Identity: visitor()})

	require.NoError(t, err)
	assert.Equal(t, "https://example.com", res.Location)
	m.assertExpectations(t)
}

func TestResolve_Password(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"missing", "", domain.ErrPasswordRequired},
		{"wrong", "nope", domain.ErrPasswordIncorrect},
		{"correct", "hunter22", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, m := setupRedirectService()
			ctx := context.Background()
			link := &domain.Link{ID: 6, Slug: "secret", Destination: "https://example.com", PasswordHash: string(hash)}

			m.cache.On("Get", ctx, "", "secret").Return(link, nil).Once()
			if tt.wantErr == nil {
				m.repo.On("IncrementClicks", mock.Anything, int64(6)).Return(int64(1), true, nil).Once()
				m.publisher.On("PublishRedirect", mock.Anything, mock.Anything).Return(nil).Once()
			}

			_, err := svc.Resolve(ctx, RedirectRequest{Slug: "secret", Password: tt.password, Identity: visitor()})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				m.repo.AssertNotCalled(t, "IncrementClicks", mock.Anything, mock.Anything)
				return
			}
			assert.NoError(t, err)
			m.assertExpectations(t)
		})
	}
}

func TestResolve_RoutingAndUTM(t *testing.T) {
	svc, m := setupRedirectService()
	ctx := context.Background()
	link := &domain.Link{
		ID:          7,
		Slug:        "routed",
		OwnerID:     "owner-1",
		Destination: "https://example.com",
		UTMTemplate: "utm_source=edgelink&utm_medium=short",
		Routing: &domain.Routing{
			Device: &domain.DeviceRule{Mobile: "https://m.example.com/?utm_source=app"},
		},
	}

	m.cache.On("Get", ctx, "", "routed").Return(link, nil).Once()
	m.repo.On("IncrementClicks", mock.Anything, int64(7)).Return(int64(1), true, nil).Once()
	m.publisher.On("PublishRedirect", mock.Anything, mock.MatchedBy(func(e *domain.RedirectEvent) bool {
		return e.Device == "mobile" &&
			e.RoutingRuleMatched == "device:mobile" &&
			e.ReferrerDomain == "news.ycombinator.com" &&
			e.Country == "US" &&
			e.OwnerID == "owner-1" &&
			e.ResolvedDestination == "https://m.example.com/?utm_source=app&utm_medium=short"
	})).Return(nil).Once()

	res, err := svc.Resolve(ctx, RedirectRequest{
		Slug:      "routed",
		Identity:  visitor(),
		UserAgent: iPhoneUA,
		Referer:   "https://news.ycombinator.com/item?id=1",
		Country:   "US",
	})

	require.NoError(t, err)
	assert.Equal(t, "https://m.example.com/?utm_source=app&utm_medium=short", res.Location)
	assert.Equal(t, "device:mobile", res.Matched)
	m.assertExpectations(t)
}

func TestResolve_UTMLocationLongerThanDestination(t *testing.T) {
	svc, m := setupRedirectService()
	ctx := context.Background()
	link := &domain.Link{
		ID:          10,
		Slug:        "long",
		Destination: "https://example.com/" + strings.Repeat("p", domain.MaxDestinationLength-len("https://example.com/")),
		UTMTemplate: "utm_source=newsletter&utm_medium=email&utm_campaign=" + strings.Repeat("c", 300),
	}

	var published *domain.RedirectEvent
	m.cache.On("Get", ctx, "", "long").Return(link, nil).Once()
	m.repo.On("IncrementClicks", mock.Anything, int64(10)).Return(int64(1), true, nil).Once()
	m.publisher.On("PublishRedirect", mock.Anything, mock.Anything).Return(nil).Once().Run(func(args mock.Arguments) {
		published = args.Get(1).(*domain.RedirectEvent)
	})

	res, err := svc.Resolve(ctx, RedirectRequest{Slug: "long", Identity: visitor()})

	require.NoError(t, err)
	assert.Greater(t, len(res.Location), domain.MaxDestinationLength)
	assert.Contains(t, res.Location, "utm_campaign=ccc")
	require.NotNil(t, published)
	assert.Equal(t, res.Location, published.ResolvedDestination)
	m.assertExpectations(t)
}

func TestResolve_PublishFailureDoesNotFailRedirect(t *testing.T) {
	svc, m := setupRedirectService()
	ctx := context.Background()
	link := &domain.Link{ID: 8, Slug: "abc", Destination: "https://example.com"}

	m.cache.On("Get", ctx, "", "abc").Return(link, nil).Once()
	m.repo.On("IncrementClicks", mock.Anything, int64(8)).Return(int64(1), true, nil).Once()
	m.publisher.On("PublishRedirect", mock.Anything, mock.Anything).Return(errors.New("both sinks down")).Once()

	_, err := svc.Resolve(ctx, RedirectRequest{Slug: "abc", Identity: visitor()})

	assert.NoError(t, err)
	m.assertExpectations(t)
}
