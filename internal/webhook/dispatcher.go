package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gamassss/edgelink/internal/config"
	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/logger"
	"github.com/gamassss/edgelink/internal/metrics"
	"github.com/google/uuid"
)

const userAgent = "edgelink-webhooks/1.0"

type Queue interface {
	Schedule(ctx context.Context, d *domain.Delivery) error
	ClaimDue(ctx context.Context, now time.Time, limit int, visibility time.Duration) ([]*domain.Delivery, error)
	Remove(ctx context.Context, id string) error
}

type SubscriptionStore interface {
	Get(ctx context.Context, id string) (*domain.Subscription, error)
}

// Dispatcher delivers queued webhook notifications. Deliveries wait in
// the queue until due; nothing sleeps for a retry delay.
type Dispatcher struct {
	queue    Queue
	subs     SubscriptionStore
	client   *http.Client
	cfg      config.WebhookConfig
	schedule []time.Duration
	now      func() time.Time
}

var DefaultRetrySchedule = []time.Duration{
	0,
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	time.Hour,
	6 * time.Hour,
}

func NewDispatcher(queue Queue, subs SubscriptionStore, cfg config.WebhookConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ClaimVisibility <= 0 {
		cfg.ClaimVisibility = time.Minute
	}

	schedule := cfg.RetrySchedule
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}

	return &Dispatcher{
		queue:    queue,
		subs:     subs,
		client:   &http.Client{Timeout: cfg.Timeout, CheckRedirect: noRedirects},
		cfg:      cfg,
		schedule: schedule,
		now:      time.Now,
	}
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// WithHTTPClient swaps the client used for attempts. Redirects are never
// followed, whatever the given client's CheckRedirect says.
func (d *Dispatcher) WithHTTPClient(client *http.Client) *Dispatcher {
	c := *client
	c.CheckRedirect = noRedirects
	d.client = &c
	return d
}

// A 3xx is returned as-is and counts as a failed attempt.
func noRedirects(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// MaxAttempts is the total number of POSTs made before a delivery is
// given up.
func (d *Dispatcher) MaxAttempts() int {
	return len(d.schedule)
}

// Enqueue creates a delivery of data to sub. The first attempt is due
// after the first schedule entry, normally immediately.
func (d *Dispatcher) Enqueue(ctx context.Context, sub *domain.Subscription, eventType domain.EventType, data any) (*domain.Delivery, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	now := d.now()
	delivery := &domain.Delivery{
		ID:            uuid.NewString(),
		WebhookID:     sub.ID,
		OwnerID:       sub.OwnerID,
		EventType:     eventType,
		Payload:       payload,
		NextAttemptAt: now.Add(d.schedule[0]),
		CreatedAt:     now,
	}

	if err := d.queue.Schedule(ctx, delivery); err != nil {
		return nil, fmt.Errorf("schedule delivery: %w", err)
	}
	return delivery, nil
}

// Run polls for due deliveries until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info("Webhook dispatcher started",
		slog.Duration("poll_interval", d.cfg.PollInterval),
		slog.Int("workers", d.cfg.Workers),
	)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.ProcessDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Failed to process due deliveries", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			log.Info("Webhook dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessDue claims one batch of due deliveries and attempts each of
// them. It returns the number of deliveries attempted.
func (d *Dispatcher) ProcessDue(ctx context.Context) (int, error) {
	due, err := d.queue.ClaimDue(ctx, d.now(), d.cfg.BatchSize, d.cfg.ClaimVisibility)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, d.cfg.Workers)
	var wg sync.WaitGroup
	for _, delivery := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(delivery *domain.Delivery) {
			defer wg.Done()
			defer func() { <-sem }()
			d.process(ctx, delivery)
		}(delivery)
	}
	wg.Wait()

	return len(due), nil
}

func (d *Dispatcher) process(ctx context.Context, delivery *domain.Delivery) {
	log := logger.FromContext(ctx).With(
		slog.String("delivery_id", delivery.ID),
		slog.String("webhook_id", delivery.WebhookID),
		slog.String("event", string(delivery.EventType)),
	)

	sub, err := d.subs.Get(ctx, delivery.WebhookID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info("Subscription removed, dropping delivery")
		metrics.WebhookAttemptsTotal.WithLabelValues("cancelled").Inc()
		d.remove(ctx, log, delivery)
		return
	}
	if err != nil {
		// Left claimed; it becomes due again when the claim expires.
		log.Error("Failed to load subscription", slog.String("error", err.Error()))
		return
	}

	delivery.AttemptCount++
	status, err := d.post(ctx, sub, delivery)
	if err == nil {
		metrics.WebhookAttemptsTotal.WithLabelValues("success").Inc()
		log.Debug("Webhook delivered",
			slog.Int("attempt", delivery.AttemptCount),
			slog.Int("status", status),
		)
		d.remove(ctx, log, delivery)
		return
	}

	failure := &domain.DeliveryFailedError{
		DeliveryID: delivery.ID,
		Attempt:    delivery.AttemptCount,
		StatusCode: status,
		Err:        err,
	}
	delivery.LastStatus = status
	delivery.LastError = failure.Error()

	if delivery.AttemptCount >= d.MaxAttempts() {
		metrics.WebhookAttemptsTotal.WithLabelValues("exhausted").Inc()
		log.Error("Webhook delivery permanently failed",
			slog.Int("attempts", delivery.AttemptCount),
			slog.Int("last_status", status),
			slog.String("error", failure.Error()),
		)
		d.remove(ctx, log, delivery)
		return
	}

	delivery.NextAttemptAt = d.now().Add(d.schedule[delivery.AttemptCount])
	metrics.WebhookAttemptsTotal.WithLabelValues("retry").Inc()
	log.Warn("Webhook delivery failed, will retry",
		slog.Int("attempt", delivery.AttemptCount),
		slog.Time("next_attempt_at", delivery.NextAttemptAt),
		slog.String("error", failure.Error()),
	)

	if err := d.queue.Schedule(ctx, delivery); err != nil {
		log.Error("Failed to reschedule delivery", slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) remove(ctx context.Context, log *slog.Logger, delivery *domain.Delivery) {
	if err := d.queue.Remove(ctx, delivery.ID); err != nil {
		log.Error("Failed to remove delivery", slog.String("error", err.Error()))
	}
}

// post makes one attempt. A nil error means a 2xx response.
func (d *Dispatcher) post(ctx context.Context, sub *domain.Subscription, delivery *domain.Delivery) (int, error) {
	target, err := url.Parse(sub.URL)
	if err != nil {
		return 0, fmt.Errorf("parse subscription url: %w", err)
	}
	if target.Scheme != "https" && !d.cfg.AllowInsecure {
		return 0, fmt.Errorf("refusing non-https url %q", sub.URL)
	}

	ts := d.now().Unix()
	body, err := json.Marshal(domain.WebhookPayload{
		Event:      delivery.EventType,
		Timestamp:  ts,
		WebhookID:  delivery.WebhookID,
		DeliveryID: delivery.ID,
		Data:       delivery.Payload,
	})
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(SignatureHeader, Sign(sub.Secret, ts, body))
	req.Header.Set(EventTypeHeader, string(delivery.EventType))
	req.Header.Set(DeliveryIDHeader, delivery.ID)
	req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.WebhookAttemptDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
