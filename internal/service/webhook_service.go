package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/webhook"
	"github.com/google/uuid"
)

type WebhookRepository interface {
	Create(ctx context.Context, sub *domain.Subscription, maxPerOwner int) error
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Subscription, error)
	Delete(ctx context.Context, ownerID, id string) error
}

type WebhookService struct {
	repo          WebhookRepository
	maxPerOwner   int
	allowInsecure bool
}

func NewWebhookService(repo WebhookRepository, maxPerOwner int, allowInsecure bool) *WebhookService {
	if maxPerOwner <= 0 {
		maxPerOwner = 5
	}
	return &WebhookService{repo: repo, maxPerOwner: maxPerOwner, allowInsecure: allowInsecure}
}

// Create registers a subscription for a pro owner. The returned secret is
// shown once and is not retrievable afterwards.
func (s *WebhookService) Create(ctx context.Context, identity domain.Identity, req *domain.CreateWebhookRequest) (*domain.CreatedWebhook, error) {
	if err := requirePro(identity); err != nil {
		return nil, err
	}

	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && !(s.allowInsecure && u.Scheme == "http")) {
		return nil, &domain.ValidationError{Field: "url", Reason: "webhook url must be an absolute https url"}
	}

	secret := req.Secret
	if secret == "" {
		if secret, err = webhook.NewSecret(); err != nil {
			return nil, fmt.Errorf("generate webhook secret: %w", err)
		}
	}

	sub := &domain.Subscription{
		ID:      uuid.NewString(),
		OwnerID: identity.UserID,
		Name:    req.Name,
		URL:     req.URL,
		Events:  dedupe(req.Events),
		Slug:    req.Slug,
		Secret:  secret,
	}

	if err := s.repo.Create(ctx, sub, s.maxPerOwner); err != nil {
		if errors.Is(err, domain.ErrWebhookLimit) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}

	return &domain.CreatedWebhook{Subscription: *sub, Secret: secret}, nil
}

func (s *WebhookService) List(ctx context.Context, identity domain.Identity) ([]*domain.Subscription, error) {
	if err := requirePro(identity); err != nil {
		return nil, err
	}
	subs, err := s.repo.ListByOwner(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	if subs == nil {
		subs = []*domain.Subscription{}
	}
	return subs, nil
}

// Delete removes the subscription. Deliveries already queued for it are
// dropped by the dispatcher when they next come due.
func (s *WebhookService) Delete(ctx context.Context, identity domain.Identity, id string) error {
	if err := requireIdentity(identity); err != nil {
		return err
	}
	return s.repo.Delete(ctx, identity.UserID, id)
}

func dedupe(events []string) []string {
	seen := make(map[string]bool, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}
