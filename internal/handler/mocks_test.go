package handler

import (
	"context"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/service"
	"github.com/stretchr/testify/mock"
)

type MockRedirectService struct {
	mock.Mock
}

func (m *MockRedirectService) Resolve(ctx context.Context, req service.RedirectRequest) (*service.Redirect, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Redirect), args.Error(1)
}

type MockLinkService struct {
	mock.Mock
}

func linkResult(args mock.Arguments) (*domain.Link, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Link), args.Error(1)
}

func (m *MockLinkService) Create(ctx context.Context, identity domain.Identity, req *domain.CreateLinkRequest) (*domain.Link, error) {
	return linkResult(m.Called(ctx, identity, req))
}

func (m *MockLinkService) BulkImport(ctx context.Context, identity domain.Identity, req *domain.BulkImportRequest) (*domain.BulkImportResult, error) {
	args := m.Called(ctx, identity, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BulkImportResult), args.Error(1)
}

func (m *MockLinkService) Get(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.Link, error) {
	return linkResult(m.Called(ctx, identity, domainScope, slug))
}

func (m *MockLinkService) List(ctx context.Context, identity domain.Identity, page, limit int) (*domain.LinkList, error) {
	args := m.Called(ctx, identity, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LinkList), args.Error(1)
}

func (m *MockLinkService) Update(ctx context.Context, identity domain.Identity, domainScope, slug string, req *domain.UpdateLinkRequest) (*domain.Link, error) {
	return linkResult(m.Called(ctx, identity, domainScope, slug, req))
}

func (m *MockLinkService) Delete(ctx context.Context, identity domain.Identity, domainScope, slug string) error {
	return m.Called(ctx, identity, domainScope, slug).Error(0)
}

func (m *MockLinkService) Rename(ctx context.Context, identity domain.Identity, domainScope, slug, newSlug string) (*domain.Link, error) {
	return linkResult(m.Called(ctx, identity, domainScope, slug, newSlug))
}

func (m *MockLinkService) Routing(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.Routing, error) {
	args := m.Called(ctx, identity, domainScope, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Routing), args.Error(1)
}

func (m *MockLinkService) SetRouting(ctx context.Context, identity domain.Identity, domainScope, slug string, category domain.RoutingCategory, raw []byte) (*domain.Link, error) {
	return linkResult(m.Called(ctx, identity, domainScope, slug, category, raw))
}

func (m *MockLinkService) ClearRouting(ctx context.Context, identity domain.Identity, domainScope, slug string, category domain.RoutingCategory) (*domain.Link, error) {
	return linkResult(m.Called(ctx, identity, domainScope, slug, category))
}

func (m *MockLinkService) SetABTest(ctx context.Context, identity domain.Identity, domainScope, slug string, req *domain.ABTestRequest) (*domain.Link, error) {
	return linkResult(m.Called(ctx, identity, domainScope, slug, req))
}

func (m *MockLinkService) View(link *domain.Link) domain.LinkView {
	return link.View("https://edge.link/" + link.Slug)
}

type MockAnalyticsService struct {
	mock.Mock
}

func (m *MockAnalyticsService) Stats(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.LinkStats, error) {
	args := m.Called(ctx, identity, domainScope, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LinkStats), args.Error(1)
}

func (m *MockAnalyticsService) ABTestResults(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.ABTestResults, error) {
	args := m.Called(ctx, identity, domainScope, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ABTestResults), args.Error(1)
}

type MockWebhookService struct {
	mock.Mock
}

func (m *MockWebhookService) Create(ctx context.Context, identity domain.Identity, req *domain.CreateWebhookRequest) (*domain.CreatedWebhook, error) {
	args := m.Called(ctx, identity, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CreatedWebhook), args.Error(1)
}

func (m *MockWebhookService) List(ctx context.Context, identity domain.Identity) ([]*domain.Subscription, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Subscription), args.Error(1)
}

func (m *MockWebhookService) Delete(ctx context.Context, identity domain.Identity, id string) error {
	return m.Called(ctx, identity, id).Error(0)
}
