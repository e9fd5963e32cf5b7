package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/logger"
	"github.com/gamassss/edgelink/internal/routing"
	"github.com/gamassss/edgelink/internal/tasks"
	"github.com/gamassss/edgelink/pkg/generator"
	"golang.org/x/crypto/bcrypt"
)

const maxSlugRetries = 3

type RuleMatchReader interface {
	RuleMatches(ctx context.Context, linkID int64) (map[string]int64, error)
}

type RuleMatchResetter interface {
	ResetRuleMatches(ctx context.Context, linkID int64, keys ...string) error
}

// LinkService owns every write to links plus the owner-facing reads.
type LinkService struct {
	repo      LinkRepository
	links     *LinkResolver
	publisher EventPublisher
	runner    tasks.Runner
	counters  RuleMatchResetter
	sources   []RuleMatchReader
	baseURL   *url.URL
	now       func() time.Time
}

func NewLinkService(
	repo LinkRepository,
	links *LinkResolver,
	publisher EventPublisher,
	runner tasks.Runner,
	counters RuleMatchResetter,
	baseURL string,
	sources ...RuleMatchReader,
) (*LinkService, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}

	return &LinkService{
		repo:      repo,
		links:     links,
		publisher: publisher,
		runner:    runner,
		counters:  counters,
		sources:   sources,
		baseURL:   u,
		now:       time.Now,
	}, nil
}

func (s *LinkService) WithClock(now func() time.Time) *LinkService {
	s.now = now
	return s
}

func (s *LinkService) ShortURL(link *domain.Link) string {
	if link.CustomDomain != "" {
		return "https://" + link.CustomDomain + "/" + link.Slug
	}
	return s.baseURL.String() + "/" + link.Slug
}

func (s *LinkService) View(link *domain.Link) domain.LinkView {
	return link.View(s.ShortURL(link))
}

// shortHosts are the hosts that serve link; destinations pointing back at
// them are redirect loops.
func (s *LinkService) shortHosts(link *domain.Link) []string {
	hosts := []string{s.baseURL.Hostname()}
	if link.CustomDomain != "" {
		hosts = append(hosts, link.CustomDomain)
	}
	return hosts
}

func requireIdentity(identity domain.Identity) error {
	if identity.IsAnonymous() {
		return domain.ErrIdentityRequired
	}
	return nil
}

func requirePro(identity domain.Identity) error {
	if err := requireIdentity(identity); err != nil {
		return err
	}
	if !identity.IsPro() {
		return domain.ErrPlanRequired
	}
	return nil
}

func authorize(identity domain.Identity, link *domain.Link) error {
	if err := requireIdentity(identity); err != nil {
		return err
	}
	if link.OwnerID != identity.UserID {
		return domain.ErrForbidden
	}
	return nil
}

// checkCreate gates link options by plan. Anonymous callers get plain
// links with an optional expiry; custom domains need the pro plan.
func checkCreate(identity domain.Identity, req *domain.CreateLinkRequest) error {
	if identity.IsAnonymous() {
		if req.CustomSlug != "" || req.CustomDomain != "" || req.Password != "" || req.MaxClicks != nil || req.UTMTemplate != "" {
			return domain.ErrIdentityRequired
		}
		return nil
	}
	if req.CustomDomain != "" && !identity.IsPro() {
		return domain.ErrPlanRequired
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *LinkService) Create(ctx context.Context, identity domain.Identity, req *domain.CreateLinkRequest) (*domain.Link, error) {
	if err := checkCreate(identity, req); err != nil {
		return nil, err
	}

	now := s.now()
	link := &domain.Link{
		OwnerID:      identity.UserID,
		Destination:  req.URL,
		CustomDomain: strings.ToLower(req.CustomDomain),
		MaxClicks:    req.MaxClicks,
		UTMTemplate:  req.UTMTemplate,
	}

	switch {
	case req.ExpiresAt != nil:
		if !req.ExpiresAt.After(now) {
			return nil, domain.ErrExpiryInPast
		}
		expires := req.ExpiresAt.UTC()
		link.ExpiresAt = &expires
	case req.ExpiryHours > 0:
		expires := now.Add(time.Duration(req.ExpiryHours) * time.Hour).UTC()
		link.ExpiresAt = &expires
	}

	if req.Password != "" {
		hash, err := hashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		link.PasswordHash = hash
	}

	var err error
	for i := 0; i < maxSlugRetries; i++ {
		link.Slug = req.CustomSlug
		if link.Slug == "" {
			link.Slug, err = generator.NewSlug()
			if err != nil {
				return nil, err
			}
		}

		if err = routing.Validate(link, s.shortHosts(link)); err != nil {
			return nil, err
		}

		err = s.repo.Create(ctx, link)
		if err == nil {
			s.emit(ctx, domain.EventLinkCreated, link)
			return link, nil
		}

		if errors.Is(err, domain.ErrSlugTaken) {
			if req.CustomSlug != "" {
				return nil, err
			}
			continue
		}

		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	return nil, fmt.Errorf("failed to generate slug after %d retries: %w", maxSlugRetries, err)
}

// BulkImport creates each link independently; one failure does not stop
// the rest.
func (s *LinkService) BulkImport(ctx context.Context, identity domain.Identity, req *domain.BulkImportRequest) (*domain.BulkImportResult, error) {
	if err := requirePro(identity); err != nil {
		return nil, err
	}

	result := &domain.BulkImportResult{Links: []domain.LinkView{}}
	for i := range req.Links {
		link, err := s.Create(ctx, identity, &req.Links[i])
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, domain.BulkImportFailure{
				Index: i,
				URL:   req.Links[i].URL,
				Error: err.Error(),
			})
			continue
		}
		result.Imported++
		result.Links = append(result.Links, s.View(link))
	}
	return result, nil
}

// owned loads the authoritative record and checks ownership.
func (s *LinkService) owned(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.Link, error) {
	if err := requireIdentity(identity); err != nil {
		return nil, err
	}
	link, err := s.repo.GetBySlug(ctx, domainScope, slug)
	if err != nil {
		return nil, err
	}
	if err := authorize(identity, link); err != nil {
		return nil, err
	}
	return link, nil
}

// writable is owned plus a check that the link has not expired; expiry
// is terminal.
func (s *LinkService) writable(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.Link, error) {
	link, err := s.owned(ctx, identity, domainScope, slug)
	if err != nil {
		return nil, err
	}
	if err := AcceptOrReject(link, s.now()); err != nil {
		return nil, err
	}
	return link, nil
}

func (s *LinkService) Get(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.Link, error) {
	return s.owned(ctx, identity, domainScope, slug)
}

func (s *LinkService) List(ctx context.Context, identity domain.Identity, page, limit int) (*domain.LinkList, error) {
	if err := requireIdentity(identity); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	total, err := s.repo.CountByOwner(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("count links: %w", err)
	}
	links, err := s.repo.ListByOwner(ctx, identity.UserID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	views := make([]domain.LinkView, 0, len(links))
	for _, link := range links {
		views = append(views, s.View(link))
	}
	return &domain.LinkList{
		Links:      views,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: int((total + int64(limit) - 1) / int64(limit)),
	}, nil
}

func (s *LinkService) Update(ctx context.Context, identity domain.Identity, domainScope, slug string, req *domain.UpdateLinkRequest) (*domain.Link, error) {
	link, err := s.writable(ctx, identity, domainScope, slug)
	if err != nil {
		return nil, err
	}

	if req.Routing != nil && !req.Routing.IsEmpty() {
		if err := requirePro(identity); err != nil {
			return nil, err
		}
		if link.Routing == nil {
			link.Routing = &domain.Routing{}
		}
		link.Routing.Merge(req.Routing)
	}

	if req.Destination != nil {
		link.Destination = *req.Destination
	}
	switch {
	case req.ClearExpiresAt:
		link.ExpiresAt = nil
	case req.ExpiresAt != nil:
		if !req.ExpiresAt.After(s.now()) {
			return nil, domain.ErrExpiryInPast
		}
		expires := req.ExpiresAt.UTC()
		link.ExpiresAt = &expires
	}
	if req.MaxClicks != nil {
		link.MaxClicks = req.MaxClicks
	}
	if req.Password != nil {
		link.PasswordHash = ""
		if *req.Password != "" {
			if link.PasswordHash, err = hashPassword(*req.Password); err != nil {
				return nil, err
			}
		}
	}
	if req.UTMTemplate != nil {
		link.UTMTemplate = *req.UTMTemplate
	}

	if err := s.save(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// save validates and persists link, drops the cache entry and emits
// link.updated.
func (s *LinkService) save(ctx context.Context, link *domain.Link) error {
	if err := routing.Validate(link, s.shortHosts(link)); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, link); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to update link: %w", err)
	}
	s.links.Invalidate(ctx, link.CustomDomain, link.Slug)
	s.emit(ctx, domain.EventLinkUpdated, link)
	return nil
}

func (s *LinkService) Delete(ctx context.Context, identity domain.Identity, domainScope, slug string) error {
	link, err := s.owned(ctx, identity, domainScope, slug)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, link.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete link: %w", err)
	}
	s.links.Invalidate(ctx, link.CustomDomain, link.Slug)
	s.emit(ctx, domain.EventLinkDeleted, link)
	return nil
}

// Rename moves a link to a new slug in the same scope. The link id is
// kept so click counts and analytics stay attached.
func (s *LinkService) Rename(ctx context.Context, identity domain.Identity, domainScope, slug, newSlug string) (*domain.Link, error) {
	if err := requirePro(identity); err != nil {
		return nil, err
	}
	link, err := s.writable(ctx, identity, domainScope, slug)
	if err != nil {
		return nil, err
	}
	if newSlug == link.Slug {
		return link, nil
	}

	candidate := *link
	candidate.Slug = newSlug
	if err := routing.Validate(&candidate, s.shortHosts(&candidate)); err != nil {
		return nil, err
	}

	oldSlug := link.Slug
	if err := s.repo.Rename(ctx, link, newSlug); err != nil {
		if errors.Is(err, domain.ErrSlugTaken) || errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to rename link: %w", err)
	}
	s.links.Invalidate(ctx, link.CustomDomain, oldSlug)
	s.emit(ctx, domain.EventLinkUpdated, link)
	return link, nil
}

func (s *LinkService) Routing(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.Routing, error) {
	link, err := s.owned(ctx, identity, domainScope, slug)
	if err != nil {
		return nil, err
	}
	if link.Routing == nil {
		return &domain.Routing{}, nil
	}
	return link.Routing, nil
}

// SetRouting replaces one routing category wholesale.
func (s *LinkService) SetRouting(ctx context.Context, identity domain.Identity, domainScope, slug string, category domain.RoutingCategory, raw []byte) (*domain.Link, error) {
	if err := requirePro(identity); err != nil {
		return nil, err
	}
	link, err := s.writable(ctx, identity, domainScope, slug)
	if err != nil {
		return nil, err
	}

	if link.Routing == nil {
		link.Routing = &domain.Routing{}
	}
	previous := link.Routing.ABTest
	if err := link.Routing.Replace(category, raw); err != nil {
		return nil, err
	}

	if err := s.save(ctx, link); err != nil {
		return nil, err
	}
	if category == domain.CategoryABTest {
		s.resetABCounters(ctx, link, previous)
	}
	return link, nil
}

func (s *LinkService) ClearRouting(ctx context.Context, identity domain.Identity, domainScope, slug string, category domain.RoutingCategory) (*domain.Link, error) {
	link, err := s.owned(ctx, identity, domainScope, slug)
	if err != nil {
		return nil, err
	}
	var previous []domain.ABRule
	if link.Routing != nil {
		previous = link.Routing.ABTest
		link.Routing.Clear(category)
	}

	if err := s.save(ctx, link); err != nil {
		return nil, err
	}
	if category == domain.CategoryABTest {
		s.resetABCounters(ctx, link, previous)
	}
	return link, nil
}

func (s *LinkService) SetABTest(ctx context.Context, identity domain.Identity, domainScope, slug string, req *domain.ABTestRequest) (*domain.Link, error) {
	if err := requirePro(identity); err != nil {
		return nil, err
	}
	link, err := s.writable(ctx, identity, domainScope, slug)
	if err != nil {
		return nil, err
	}

	if link.Routing == nil {
		link.Routing = &domain.Routing{}
	}
	previous := link.Routing.ABTest
	link.Routing.ABTest = req.Rules()

	if err := s.save(ctx, link); err != nil {
		return nil, err
	}
	s.resetABCounters(ctx, link, previous)
	return link, nil
}

func abMatchKey(variant string) string {
	return string(domain.CategoryABTest) + ":" + variant
}

// resetABCounters clears the counters of both the replaced and the current
// variants.
func (s *LinkService) resetABCounters(ctx context.Context, link *domain.Link, previous []domain.ABRule) {
	if s.counters == nil {
		return
	}

	var keys []string
	seen := make(map[string]bool)
	add := func(rules []domain.ABRule) {
		for i, rule := range rules {
			key := abMatchKey(rule.VariantName(i))
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	add(previous)
	if link.Routing != nil {
		add(link.Routing.ABTest)
	}
	if len(keys) == 0 {
		return
	}

	if err := s.counters.ResetRuleMatches(ctx, link.ID, keys...); err != nil {
		logger.FromContext(ctx).Warn("Failed to reset A/B counters",
			slog.String("slug", link.Slug),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LinkService) ABTestResults(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.ABTestResults, error) {
	link, err := s.owned(ctx, identity, domainScope, slug)
	if err != nil {
		return nil, err
	}
	if link.Routing == nil || len(link.Routing.ABTest) == 0 {
		return nil, domain.ErrNotFound
	}

	matches := s.ruleMatches(ctx, link)
	results := &domain.ABTestResults{Slug: link.Slug}
	for i, rule := range link.Routing.ABTest {
		variant := rule.VariantName(i)
		clicks := matches[abMatchKey(variant)]
		results.Variants = append(results.Variants, domain.ABVariantResult{
			Variant:     variant,
			Destination: rule.Destination,
			Weight:      rule.Weight,
			Clicks:      clicks,
		})
		switch variant {
		case "a":
			results.VariantAClicks = clicks
		case "b":
			results.VariantBClicks = clicks
		}
	}
	return results, nil
}

// Stats is public for anonymous links and owner-only otherwise.
func (s *LinkService) Stats(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.LinkStats, error) {
	link, err := s.repo.GetBySlug(ctx, domainScope, slug)
	if err != nil {
		return nil, err
	}
	if !link.IsAnonymous() {
		if err := authorize(identity, link); err != nil {
			return nil, err
		}
	}

	return &domain.LinkStats{
		Slug:        link.Slug,
		ClickCount:  link.ClickCount,
		CreatedAt:   link.CreatedAt,
		MaxClicks:   link.MaxClicks,
		ExpiresAt:   link.ExpiresAt,
		Expired:     link.IsExpired(s.now()),
		RuleMatches: s.ruleMatches(ctx, link),
	}, nil
}

// ruleMatches sums counters across analytics sinks. A sink that fails to
// answer is skipped.
func (s *LinkService) ruleMatches(ctx context.Context, link *domain.Link) map[string]int64 {
	total := make(map[string]int64)
	for _, src := range s.sources {
		matches, err := src.RuleMatches(ctx, link.ID)
		if err != nil {
			logger.FromContext(ctx).Warn("Rule match counters unavailable",
				slog.String("slug", link.Slug),
				slog.String("error", err.Error()),
			)
			continue
		}
		for k, v := range matches {
			total[k] += v
		}
	}
	return total
}

func (s *LinkService) emit(ctx context.Context, eventType domain.EventType, link *domain.Link) {
	if link.IsAnonymous() {
		return
	}
	event := &domain.LinkEvent{
		Type:      eventType,
		Link:      s.View(link),
		OwnerID:   link.OwnerID,
		Timestamp: s.now().UTC(),
	}
	s.runner.Go(ctx, "link_event", func(ctx context.Context) error {
		return s.publisher.PublishLinkEvent(ctx, event)
	})
}
