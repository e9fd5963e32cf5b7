package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/logger"
	"github.com/gamassss/edgelink/internal/metrics"
	"github.com/gamassss/edgelink/internal/routing"
	"github.com/gamassss/edgelink/internal/tasks"
	"github.com/gamassss/edgelink/pkg/detector"
	"golang.org/x/crypto/bcrypt"
)

type EventPublisher interface {
	PublishRedirect(ctx context.Context, event *domain.RedirectEvent) error
	PublishLinkEvent(ctx context.Context, event *domain.LinkEvent) error
}

// RedirectRequest is the visitor-side input of a redirect. Edge headers
// are already extracted by the handler.
type RedirectRequest struct {
	DomainScope string
	Slug        string
	Identity    domain.Identity
	UserAgent   string
	Referer     string
	Country     string
	City        string
	Timezone    string
	Password    string
}

type Redirect struct {
	Location string
	Link     *domain.Link
	Matched  string
}

type RedirectService struct {
	links     *LinkResolver
	repo      LinkRepository
	publisher EventPublisher
	runner    tasks.Runner
	now       func() time.Time
}

func NewRedirectService(links *LinkResolver, repo LinkRepository, publisher EventPublisher, runner tasks.Runner) *RedirectService {
	return &RedirectService{
		links:     links,
		repo:      repo,
		publisher: publisher,
		runner:    runner,
		now:       time.Now,
	}
}

func (s *RedirectService) WithClock(now func() time.Time) *RedirectService {
	s.now = now
	s.links.now = now
	return s
}

// AcceptOrReject fails closed on an expired link whatever the source of
// the record.
func AcceptOrReject(link *domain.Link, now time.Time) error {
	if link.IsExpired(now) {
		return domain.ErrExpired
	}
	return nil
}

func checkPassword(link *domain.Link, password string) error {
	if !link.IsPasswordProtected() {
		return nil
	}
	if password == "" {
		return domain.ErrPasswordRequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(password)); err != nil {
		return domain.ErrPasswordIncorrect
	}
	return nil
}

// Resolve picks the redirect target for req. Click accounting and event
// fan-out are handed to the task runner and never delay the response.
func (s *RedirectService) Resolve(ctx context.Context, req RedirectRequest) (*Redirect, error) {
	now := s.now()

	link, err := s.links.Resolve(ctx, req.DomainScope, req.Slug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.RedirectsTotal.WithLabelValues("not_found").Inc()
			return nil, err
		}
		metrics.RedirectsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("resolve link: %w", err)
	}

	if err := AcceptOrReject(link, now); err != nil {
		metrics.RedirectsTotal.WithLabelValues("expired").Inc()
		return nil, err
	}

	if err := checkPassword(link, req.Password); err != nil {
		metrics.RedirectsTotal.WithLabelValues("password").Inc()
		return nil, err
	}

	referrerDomain := detector.ReferrerDomain(req.Referer)
	result := routing.Evaluate(link, routing.RequestContext{
		IdentityKey:     req.Identity.Key(),
		UserAgent:       req.UserAgent,
		Country:         req.Country,
		ReferrerDomain:  referrerDomain,
		VisitorTimezone: req.Timezone,
		Now:             now,
	})
	location := routing.ApplyUTM(result.Destination, link.UTMTemplate)

	metrics.RedirectsTotal.WithLabelValues("redirect").Inc()
	metrics.RoutingMatchesTotal.WithLabelValues(string(result.Category)).Inc()

	event := &domain.RedirectEvent{
		LinkID:              link.ID,
		Slug:                link.Slug,
		OwnerID:             link.OwnerID,
		Timestamp:           now.UTC(),
		ResolvedDestination: location,
		Device:              detector.DetectDeviceType(req.UserAgent),
		Country:             req.Country,
		City:                req.City,
		ReferrerDomain:      referrerDomain,
		Browser:             detector.DetectBrowser(req.UserAgent),
		OS:                  detector.DetectOS(req.UserAgent),
		IPHash:              req.Identity.IPHash,
		RoutingRuleMatched:  result.Matched(),
	}

	ctx = logger.With(ctx, slog.String("slug", link.Slug), slog.Int64("link_id", link.ID))
	s.runner.Go(ctx, "click_increment", func(ctx context.Context) error {
		s.recordClick(ctx, link)
		return nil
	})
	s.runner.Go(ctx, "redirect_fanout", func(ctx context.Context) error {
		return s.publisher.PublishRedirect(ctx, event)
	})

	return &Redirect{Location: location, Link: link, Matched: result.Matched()}, nil
}

// recordClick bumps click_count. When the increment reaches max_clicks,
// or the guard refused it, the cached record is dropped so the next
// resolution reads the exhausted link from Postgres. Failures are logged
// and swallowed.
func (s *RedirectService) recordClick(ctx context.Context, link *domain.Link) {
	count, applied, err := s.repo.IncrementClicks(ctx, link.ID)
	if err != nil {
		logger.FromContext(ctx).Error("Click increment failed", slog.String("error", err.Error()))
		return
	}

	if link.MaxClicks == nil {
		return
	}
	if !applied || count >= *link.MaxClicks {
		logger.FromContext(ctx).Info("Link reached max clicks",
			slog.Int64("max_clicks", *link.MaxClicks),
		)
		s.links.Invalidate(ctx, link.CustomDomain, link.Slug)
	}
}
