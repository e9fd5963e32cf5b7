package mocks

import (
	"context"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishRedirect(ctx context.Context, event *domain.RedirectEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishLinkEvent(ctx context.Context, event *domain.LinkEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockRuleMatches stands in for an analytics sink's rule counters.
type MockRuleMatches struct {
	mock.Mock
}

func (m *MockRuleMatches) RuleMatches(ctx context.Context, linkID int64) (map[string]int64, error) {
	args := m.Called(ctx, linkID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *MockRuleMatches) ResetRuleMatches(ctx context.Context, linkID int64, keys ...string) error {
	args := m.Called(ctx, linkID, keys)
	return args.Error(0)
}

type MockAnalyticsSink struct {
	mock.Mock
}

func (m *MockAnalyticsSink) Write(ctx context.Context, event *domain.RedirectEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockFallbackSink struct {
	mock.Mock
}

func (m *MockFallbackSink) RecordClick(ctx context.Context, event *domain.RedirectEvent) (bool, error) {
	args := m.Called(ctx, event)
	return args.Bool(0), args.Error(1)
}
