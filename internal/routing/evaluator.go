package routing

import (
	"strconv"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/cespare/xxhash/v2"
	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/pkg/detector"
)

// RequestContext is everything about the visitor the rules can look at.
type RequestContext struct {
	IdentityKey     string
	UserAgent       string
	Country         string
	ReferrerDomain  string
	VisitorTimezone string
	Now             time.Time
}

type Result struct {
	Destination string
	Category    domain.RoutingCategory
	Detail      string
}

// Matched renders the rule that fired, e.g. "device:mobile" or "fallback".
func (r Result) Matched() string {
	if r.Detail == "" {
		return string(r.Category)
	}
	return string(r.Category) + ":" + r.Detail
}

// Evaluate picks the destination for a request. Categories are tried in
// order A/B, time, device, geo, referrer; the first one with a matching
// rule wins and within a category the first matching entry wins. With no
// match the link's base destination is used.
func Evaluate(link *domain.Link, req RequestContext) Result {
	fallback := Result{Destination: link.Destination, Category: domain.CategoryFallback}
	if !link.HasRouting() {
		return fallback
	}
	r := link.Routing

	if res, ok := evaluateAB(link, r.ABTest, req.IdentityKey); ok {
		return res
	}
	if res, ok := evaluateTime(r.Time, req); ok {
		return res
	}
	if res, ok := evaluateDevice(r.Device, req.UserAgent); ok {
		return res
	}
	if res, ok := evaluateGeo(r.Geo, req.Country); ok {
		return res
	}
	if res, ok := evaluateReferrer(r.Referrer, req.ReferrerDomain); ok {
		return res
	}

	return fallback
}

// Bucket maps an identity onto [0, 1) for a given link. The same pair
// always lands in the same place.
func Bucket(identityKey string, link *domain.Link) float64 {
	linkKey := link.Slug
	if link.ID != 0 {
		linkKey = strconv.FormatInt(link.ID, 10)
	}
	h := xxhash.Sum64String(identityKey + "|" + linkKey)
	return float64(h%10000) / 10000
}

func evaluateAB(link *domain.Link, rules []domain.ABRule, identityKey string) (Result, bool) {
	if len(rules) == 0 {
		return Result{}, false
	}

	point := Bucket(identityKey, link)
	cumulative := 0.0
	for i, rule := range rules {
		cumulative += rule.Weight
		if point < cumulative || i == len(rules)-1 {
			return Result{Destination: rule.Destination, Category: domain.CategoryABTest, Detail: rule.VariantName(i)}, true
		}
	}
	return Result{}, false
}

func evaluateTime(rules []domain.TimeRule, req RequestContext) (Result, bool) {
	if len(rules) == 0 {
		return Result{}, false
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	for i, rule := range rules {
		local := now.In(ruleLocation(rule, req.VisitorTimezone))
		if !dayMatches(rule.Days, int(local.Weekday())) {
			continue
		}
		if !hourInWindow(local.Hour(), rule.StartHour, rule.EndHour) {
			continue
		}
		return Result{Destination: rule.Destination, Category: domain.CategoryTime, Detail: strconv.Itoa(i)}, true
	}
	return Result{}, false
}

func ruleLocation(rule domain.TimeRule, visitorTZ string) *time.Location {
	if rule.TimezoneSource == domain.TimezoneSourceVisitor && visitorTZ != "" {
		if loc, err := loadLocation(visitorTZ); err == nil {
			return loc
		}
	}
	if rule.Timezone != "" {
		if loc, err := loadLocation(rule.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

func dayMatches(days []int, weekday int) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == weekday {
			return true
		}
	}
	return false
}

// hourInWindow treats end as exclusive. start > end wraps past midnight.
func hourInWindow(hour, start, end int) bool {
	switch {
	case start == end:
		return true
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

// DeviceClass maps the detector's classification onto the routable
// classes. Bots and unrecognised agents are routed as desktop.
func DeviceClass(userAgent string) domain.DeviceClass {
	switch detector.DetectDeviceType(userAgent) {
	case "mobile":
		return domain.DeviceMobile
	case "tablet":
		return domain.DeviceTablet
	}
	return domain.DeviceDesktop
}

func evaluateDevice(rule *domain.DeviceRule, userAgent string) (Result, bool) {
	if rule == nil {
		return Result{}, false
	}
	class := DeviceClass(userAgent)
	if dest := rule.For(class); dest != "" {
		return Result{Destination: dest, Category: domain.CategoryDevice, Detail: string(class)}, true
	}
	return Result{}, false
}

func evaluateGeo(rule *domain.GeoRule, country string) (Result, bool) {
	if rule == nil {
		return Result{}, false
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	if country != "" {
		if dest, ok := rule.Countries[country]; ok && dest != "" {
			return Result{Destination: dest, Category: domain.CategoryGeo, Detail: country}, true
		}
	}
	if rule.Default != "" {
		return Result{Destination: rule.Default, Category: domain.CategoryGeo, Detail: domain.DefaultKey}, true
	}
	return Result{}, false
}

func evaluateReferrer(rule *domain.ReferrerRule, referrerDomain string) (Result, bool) {
	if rule == nil {
		return Result{}, false
	}
	ref := strings.ToLower(referrerDomain)
	if ref != "" {
		for _, entry := range rule.Entries {
			if entry.Domain != "" && strings.Contains(ref, entry.Domain) {
				return Result{Destination: entry.Destination, Category: domain.CategoryReferrer, Detail: entry.Domain}, true
			}
		}
	}
	if rule.Default != "" {
		return Result{Destination: rule.Default, Category: domain.CategoryReferrer, Detail: domain.DefaultKey}, true
	}
	return Result{}, false
}

var locations sync.Map

func loadLocation(name string) (*time.Location, error) {
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	locations.Store(name, loc)
	return loc, nil
}
