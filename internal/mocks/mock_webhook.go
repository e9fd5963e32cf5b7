package mocks

import (
	"context"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockWebhookRepository struct {
	mock.Mock
}

func (m *MockWebhookRepository) Create(ctx context.Context, sub *domain.Subscription, maxPerOwner int) error {
	args := m.Called(ctx, sub, maxPerOwner)
	return args.Error(0)
}

func (m *MockWebhookRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Subscription, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Subscription), args.Error(1)
}

func (m *MockWebhookRepository) ListSubscribed(ctx context.Context, ownerID string, eventType domain.EventType, slug string) ([]*domain.Subscription, error) {
	args := m.Called(ctx, ownerID, eventType, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Subscription), args.Error(1)
}

func (m *MockWebhookRepository) Delete(ctx context.Context, ownerID, id string) error {
	args := m.Called(ctx, ownerID, id)
	return args.Error(0)
}

type MockDeliveryEnqueuer struct {
	mock.Mock
}

func (m *MockDeliveryEnqueuer) Enqueue(ctx context.Context, sub *domain.Subscription, eventType domain.EventType, data any) (*domain.Delivery, error) {
	args := m.Called(ctx, sub, eventType, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Delivery), args.Error(1)
}
