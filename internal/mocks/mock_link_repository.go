package mocks

import (
	"context"
	"time"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockLinkRepository struct {
	mock.Mock
}

func (m *MockLinkRepository) Create(ctx context.Context, link *domain.Link) error {
	args := m.Called(ctx, link)
	return args.Error(0)
}

func (m *MockLinkRepository) GetBySlug(ctx context.Context, domainScope, slug string) (*domain.Link, error) {
	args := m.Called(ctx, domainScope, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Link), args.Error(1)
}

func (m *MockLinkRepository) Update(ctx context.Context, link *domain.Link) error {
	args := m.Called(ctx, link)
	return args.Error(0)
}

func (m *MockLinkRepository) Rename(ctx context.Context, link *domain.Link, newSlug string) error {
	args := m.Called(ctx, link, newSlug)
	if args.Error(0) == nil {
		link.Slug = newSlug
	}
	return args.Error(0)
}

func (m *MockLinkRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockLinkRepository) IncrementClicks(ctx context.Context, id int64) (int64, bool, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *MockLinkRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Link, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Link), args.Error(1)
}

func (m *MockLinkRepository) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).(int64), args.Error(1)
}

type MockCacheRepository struct {
	mock.Mock
}

func (m *MockCacheRepository) Get(ctx context.Context, domainScope, slug string) (*domain.Link, error) {
	args := m.Called(ctx, domainScope, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Link), args.Error(1)
}

func (m *MockCacheRepository) Set(ctx context.Context, link *domain.Link, ttl time.Duration) error {
	args := m.Called(ctx, link, ttl)
	return args.Error(0)
}

func (m *MockCacheRepository) Delete(ctx context.Context, domainScope, slug string) error {
	args := m.Called(ctx, domainScope, slug)
	return args.Error(0)
}
