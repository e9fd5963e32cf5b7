package routing

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/gamassss/edgelink/internal/domain"
)

const weightTolerance = 1e-6

// Validate checks a link's destination and routing bundle before it is
// persisted. shortHosts are the hostnames the link is served on; any
// destination pointing back at host/slug is rejected as a redirect loop.
func Validate(link *domain.Link, shortHosts []string) error {
	if err := validateDestination("destination", link.Destination, link.Slug, shortHosts); err != nil {
		return err
	}
	if link.Routing == nil {
		return nil
	}
	r := link.Routing

	if len(r.ABTest) > 0 {
		if err := validateAB(r.ABTest); err != nil {
			return err
		}
	}
	for i, rule := range r.Time {
		if err := validateTimeRule(i, rule); err != nil {
			return err
		}
	}
	if r.Device != nil && r.Device.Mobile == "" && r.Device.Tablet == "" && r.Device.Desktop == "" {
		return &domain.InvalidRoutingConfigError{Field: "device", Reason: "at least one of mobile, tablet or desktop is required"}
	}
	if r.Geo != nil {
		if len(r.Geo.Countries) == 0 && r.Geo.Default == "" {
			return &domain.InvalidRoutingConfigError{Field: "geo", Reason: "no countries configured"}
		}
		for code := range r.Geo.Countries {
			if !isCountryCode(code) {
				return &domain.InvalidRoutingConfigError{Field: "geo", Reason: fmt.Sprintf("%q is not an ISO 3166-1 alpha-2 code", code)}
			}
		}
	}
	if r.Referrer != nil {
		if len(r.Referrer.Entries) == 0 && r.Referrer.Default == "" {
			return &domain.InvalidRoutingConfigError{Field: "referrer", Reason: "no referrers configured"}
		}
		for _, e := range r.Referrer.Entries {
			if strings.TrimSpace(e.Domain) == "" {
				return &domain.InvalidRoutingConfigError{Field: "referrer", Reason: "empty referrer key"}
			}
			if len(e.Domain) > domain.MaxReferrerKeyLength {
				return &domain.InvalidRoutingConfigError{Field: "referrer", Reason: fmt.Sprintf("referrer key longer than %d characters", domain.MaxReferrerKeyLength)}
			}
		}
	}

	for _, dest := range r.Destinations() {
		if err := validateDestination("routing", dest, link.Slug, shortHosts); err != nil {
			return err
		}
	}
	return nil
}

func validateAB(rules []domain.ABRule) error {
	if len(rules) < 2 {
		return &domain.InvalidRoutingConfigError{Field: "ab_test", Reason: "at least two variants are required"}
	}
	sum := 0.0
	for _, rule := range rules {
		if rule.Weight <= 0 || rule.Weight > 1 {
			return &domain.InvalidRoutingConfigError{Field: "ab_test", Reason: "weights must be in (0, 1]"}
		}
		sum += rule.Weight
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return &domain.InvalidRoutingConfigError{Field: "ab_test", Reason: fmt.Sprintf("weights sum to %.4f, want 1.0", sum)}
	}
	return nil
}

func validateTimeRule(i int, rule domain.TimeRule) error {
	field := fmt.Sprintf("time[%d]", i)
	if rule.StartHour < 0 || rule.StartHour > 23 || rule.EndHour < 0 || rule.EndHour > 23 {
		return &domain.InvalidRoutingConfigError{Field: field, Reason: "hours must be between 0 and 23"}
	}
	for _, d := range rule.Days {
		if d < 0 || d > 6 {
			return &domain.InvalidRoutingConfigError{Field: field, Reason: "days must be between 0 (Sunday) and 6"}
		}
	}
	switch rule.TimezoneSource {
	case "", domain.TimezoneSourceFixed, domain.TimezoneSourceVisitor:
	default:
		return &domain.InvalidRoutingConfigError{Field: field, Reason: "timezone_source must be fixed or visitor"}
	}
	if rule.Timezone != "" {
		if _, err := loadLocation(rule.Timezone); err != nil {
			return &domain.InvalidRoutingConfigError{Field: field, Reason: fmt.Sprintf("unknown timezone %q", rule.Timezone)}
		}
	}
	if rule.Destination == "" {
		return &domain.InvalidRoutingConfigError{Field: field, Reason: "destination is required"}
	}
	return nil
}

func validateDestination(field, dest, slug string, shortHosts []string) error {
	if len(dest) > domain.MaxDestinationLength {
		return &domain.InvalidRoutingConfigError{Field: field, Reason: "destination is too long"}
	}
	u, err := url.Parse(dest)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &domain.InvalidRoutingConfigError{Field: field, Reason: fmt.Sprintf("%q is not an absolute http(s) URL", dest)}
	}
	if IsSelfReference(u, slug, shortHosts) {
		return &domain.InvalidRoutingConfigError{Field: field, Reason: "destination redirects back to this link"}
	}
	return nil
}

// IsSelfReference reports whether u is the short URL of slug on one of
// shortHosts.
func IsSelfReference(u *url.URL, slug string, shortHosts []string) bool {
	host := strings.ToLower(u.Hostname())
	path := strings.Trim(u.Path, "/")
	if slug == "" || path != slug {
		return false
	}
	for _, h := range shortHosts {
		if h != "" && strings.EqualFold(host, h) {
			return true
		}
	}
	return false
}

func isCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
