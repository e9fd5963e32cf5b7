package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/logger"
	"github.com/gamassss/edgelink/internal/metrics"
)

type AnalyticsSink interface {
	Write(ctx context.Context, event *domain.RedirectEvent) error
}

type FallbackSink interface {
	RecordClick(ctx context.Context, event *domain.RedirectEvent) (bool, error)
}

type SubscriptionLister interface {
	ListSubscribed(ctx context.Context, ownerID string, eventType domain.EventType, slug string) ([]*domain.Subscription, error)
}

type DeliveryEnqueuer interface {
	Enqueue(ctx context.Context, sub *domain.Subscription, eventType domain.EventType, data any) (*domain.Delivery, error)
}

// FanOut writes redirect events to analytics and queues webhook
// deliveries for the link owner's subscriptions.
type FanOut struct {
	primary  AnalyticsSink
	fallback FallbackSink
	subs     SubscriptionLister
	webhooks DeliveryEnqueuer
}

func NewFanOut(primary AnalyticsSink, fallback FallbackSink, subs SubscriptionLister, webhooks DeliveryEnqueuer) *FanOut {
	return &FanOut{
		primary:  primary,
		fallback: fallback,
		subs:     subs,
		webhooks: webhooks,
	}
}

func (f *FanOut) PublishRedirect(ctx context.Context, event *domain.RedirectEvent) error {
	analyticsErr := f.recordAnalytics(ctx, event)
	notifyErr := f.notify(ctx, domain.EventLinkClicked, event.OwnerID, event.Slug, event)
	return errors.Join(analyticsErr, notifyErr)
}

func (f *FanOut) PublishLinkEvent(ctx context.Context, event *domain.LinkEvent) error {
	return f.notify(ctx, event.Type, event.OwnerID, event.Link.Slug, event)
}

// recordAnalytics writes to the stream and falls back to Postgres when
// the stream is unavailable. The fallback insert is idempotent so a
// retried task does not double count.
func (f *FanOut) recordAnalytics(ctx context.Context, event *domain.RedirectEvent) error {
	err := f.primary.Write(ctx, event)
	if err == nil {
		metrics.AnalyticsWritesTotal.WithLabelValues("stream", "ok").Inc()
		return nil
	}

	metrics.AnalyticsWritesTotal.WithLabelValues("stream", "error").Inc()
	logger.FromContext(ctx).Warn("Analytics stream write failed, using fallback",
		slog.String("slug", event.Slug),
		slog.String("error", err.Error()),
	)

	inserted, fbErr := f.fallback.RecordClick(ctx, event)
	if fbErr != nil {
		metrics.AnalyticsWritesTotal.WithLabelValues("postgres", "error").Inc()
		return fmt.Errorf("record analytics: stream: %v, fallback: %w", err, fbErr)
	}

	status := "ok"
	if !inserted {
		status = "duplicate"
	}
	metrics.AnalyticsWritesTotal.WithLabelValues("postgres", status).Inc()
	return nil
}

func (f *FanOut) notify(ctx context.Context, eventType domain.EventType, ownerID, slug string, data any) error {
	if ownerID == "" {
		return nil
	}

	subs, err := f.subs.ListSubscribed(ctx, ownerID, eventType, slug)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	var errs []error
	for _, sub := range subs {
		if !sub.Wants(eventType, slug) {
			continue
		}
		delivery, err := f.webhooks.Enqueue(ctx, sub, eventType, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", sub.ID, err))
			continue
		}
		logger.FromContext(ctx).Debug("Webhook delivery queued",
			slog.String("webhook_id", sub.ID),
			slog.String("delivery_id", delivery.ID),
			slog.String("event", string(eventType)),
		)
	}
	return errors.Join(errs...)
}
