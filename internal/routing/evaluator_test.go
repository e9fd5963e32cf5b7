package routing

import (
	"fmt"
	"testing"
	"time"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/stretchr/testify/assert"
)

const (
	mobileUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	tabletUA  = "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/604.1"
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Monday 2026-03-02 14:00 UTC.
var monday1400 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func newLink(r *domain.Routing) *domain.Link {
	return &domain.Link{ID: 42, Slug: "abc123", Destination: "https://x.com", Routing: r}
}

func TestEvaluate_NoRouting_ReturnsDestination(t *testing.T) {
	link := newLink(nil)

	for _, ua := range []string{mobileUA, tabletUA, desktopUA, ""} {
		res := Evaluate(link, RequestContext{UserAgent: ua, Country: "US", ReferrerDomain: "twitter.com", Now: monday1400})
		assert.Equal(t, "https://x.com", res.Destination)
		assert.Equal(t, domain.CategoryFallback, res.Category)
		assert.Equal(t, "fallback", res.Matched())
	}

	link.Routing = &domain.Routing{}
	res := Evaluate(link, RequestContext{UserAgent: mobileUA})
	assert.Equal(t, "https://x.com", res.Destination)
}

func TestEvaluate_DeviceScenario(t *testing.T) {
	link := newLink(&domain.Routing{Device: &domain.DeviceRule{Mobile: "https://m.x.com"}})

	res := Evaluate(link, RequestContext{UserAgent: mobileUA})
	assert.Equal(t, "https://m.x.com", res.Destination)
	assert.Equal(t, "device:mobile", res.Matched())

	res = Evaluate(link, RequestContext{UserAgent: desktopUA})
	assert.Equal(t, "https://x.com", res.Destination)
	assert.Equal(t, domain.CategoryFallback, res.Category)
}

func TestEvaluate_TabletAndBotClasses(t *testing.T) {
	link := newLink(&domain.Routing{Device: &domain.DeviceRule{
		Mobile:  "https://m.x.com",
		Tablet:  "https://t.x.com",
		Desktop: "https://d.x.com",
	}})

	assert.Equal(t, "https://t.x.com", Evaluate(link, RequestContext{UserAgent: tabletUA}).Destination)
	assert.Equal(t, "https://d.x.com", Evaluate(link, RequestContext{UserAgent: "Googlebot/2.1"}).Destination)
	assert.Equal(t, "https://d.x.com", Evaluate(link, RequestContext{UserAgent: ""}).Destination)
}

func TestEvaluate_GeoScenario(t *testing.T) {
	link := newLink(&domain.Routing{Geo: &domain.GeoRule{
		Countries: map[string]string{"US": "https://us.x.com"},
		Default:   "https://intl.x.com",
	}})

	assert.Equal(t, "https://intl.x.com", Evaluate(link, RequestContext{Country: "GB"}).Destination)
	assert.Equal(t, "https://us.x.com", Evaluate(link, RequestContext{Country: "US"}).Destination)
	assert.Equal(t, "https://us.x.com", Evaluate(link, RequestContext{Country: "us"}).Destination)
	assert.Equal(t, "https://intl.x.com", Evaluate(link, RequestContext{Country: ""}).Destination)
	assert.Equal(t, "geo:default", Evaluate(link, RequestContext{Country: "GB"}).Matched())
}

func TestEvaluate_GeoWithoutDefaultFallsThrough(t *testing.T) {
	link := newLink(&domain.Routing{Geo: &domain.GeoRule{Countries: map[string]string{"US": "https://us.x.com"}}})

	res := Evaluate(link, RequestContext{Country: "FR"})
	assert.Equal(t, "https://x.com", res.Destination)
}

func TestEvaluate_Referrer(t *testing.T) {
	link := newLink(&domain.Routing{Referrer: &domain.ReferrerRule{
		Entries: []domain.ReferrerEntry{
			{Domain: "twitter.com", Destination: "https://x.com/tw"},
			{Domain: "news.", Destination: "https://x.com/news"},
			{Domain: "ycombinator", Destination: "https://x.com/yc"},
		},
		Default: "https://x.com/other",
	}})

	assert.Equal(t, "https://x.com/tw", Evaluate(link, RequestContext{ReferrerDomain: "mobile.twitter.com"}).Destination)
	assert.Equal(t, "https://x.com/tw", Evaluate(link, RequestContext{ReferrerDomain: "MOBILE.TWITTER.COM"}).Destination)
	// both "news." and "ycombinator" match; declaration order decides
	assert.Equal(t, "https://x.com/news", Evaluate(link, RequestContext{ReferrerDomain: "news.ycombinator.com"}).Destination)
	assert.Equal(t, "https://x.com/other", Evaluate(link, RequestContext{ReferrerDomain: "example.org"}).Destination)
	assert.Equal(t, "https://x.com/other", Evaluate(link, RequestContext{ReferrerDomain: ""}).Destination)
}

func TestEvaluate_DirectTrafficOnlyMatchesDefault(t *testing.T) {
	link := newLink(&domain.Routing{Referrer: &domain.ReferrerRule{
		Entries: []domain.ReferrerEntry{{Domain: "", Destination: "https://x.com/empty"}, {Domain: "t", Destination: "https://x.com/t"}},
	}})

	res := Evaluate(link, RequestContext{ReferrerDomain: ""})
	assert.Equal(t, "https://x.com", res.Destination)
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	full := &domain.Routing{
		ABTest: []domain.ABRule{
			{Variant: "a", Weight: 0.5, Destination: "https://ab.x.com/a"},
			{Variant: "b", Weight: 0.5, Destination: "https://ab.x.com/b"},
		},
		Time:     []domain.TimeRule{{StartHour: 9, EndHour: 17, Destination: "https://time.x.com"}},
		Device:   &domain.DeviceRule{Mobile: "https://m.x.com"},
		Geo:      &domain.GeoRule{Countries: map[string]string{"US": "https://us.x.com"}},
		Referrer: &domain.ReferrerRule{Default: "https://ref.x.com"},
	}
	req := RequestContext{IdentityKey: "user:1", UserAgent: mobileUA, Country: "US", ReferrerDomain: "twitter.com", Now: monday1400}

	res := Evaluate(newLink(full), req)
	assert.Equal(t, domain.CategoryABTest, res.Category)

	full.ABTest = nil
	res = Evaluate(newLink(full), req)
	assert.Equal(t, "https://time.x.com", res.Destination)

	full.Time = nil
	res = Evaluate(newLink(full), req)
	assert.Equal(t, "https://m.x.com", res.Destination, "device beats geo")

	full.Device = nil
	res = Evaluate(newLink(full), req)
	assert.Equal(t, "https://us.x.com", res.Destination)

	full.Geo = nil
	res = Evaluate(newLink(full), req)
	assert.Equal(t, "https://ref.x.com", res.Destination)

	full.Referrer = nil
	res = Evaluate(newLink(full), req)
	assert.Equal(t, "https://x.com", res.Destination)
}

func TestEvaluate_DeviceAndGeoBothMatch(t *testing.T) {
	link := newLink(&domain.Routing{
		Device: &domain.DeviceRule{Mobile: "https://m.x.com"},
		Geo:    &domain.GeoRule{Countries: map[string]string{"US": "https://us.x.com"}, Default: "https://intl.x.com"},
	})

	for _, country := range []string{"US", "GB", ""} {
		res := Evaluate(link, RequestContext{UserAgent: mobileUA, Country: country})
		assert.Equal(t, "https://m.x.com", res.Destination)
	}
}

func TestEvaluate_TimeWindows(t *testing.T) {
	tests := []struct {
		name  string
		rule  domain.TimeRule
		now   time.Time
		match bool
	}{
		{"inside utc window", domain.TimeRule{StartHour: 9, EndHour: 17}, monday1400, true},
		{"end hour exclusive", domain.TimeRule{StartHour: 9, EndHour: 14}, monday1400, false},
		{"start hour inclusive", domain.TimeRule{StartHour: 14, EndHour: 15}, monday1400, true},
		{"wrong day", domain.TimeRule{Days: []int{0, 6}, StartHour: 9, EndHour: 17}, monday1400, false},
		{"right day", domain.TimeRule{Days: []int{1}, StartHour: 9, EndHour: 17}, monday1400, true},
		{"wraps midnight late", domain.TimeRule{StartHour: 22, EndHour: 6}, time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC), true},
		{"wraps midnight early", domain.TimeRule{StartHour: 22, EndHour: 6}, time.Date(2026, 3, 2, 5, 59, 0, 0, time.UTC), true},
		{"outside wrap", domain.TimeRule{StartHour: 22, EndHour: 6}, monday1400, false},
		{"whole day", domain.TimeRule{StartHour: 0, EndHour: 0}, monday1400, true},
		// 14:00 UTC is 23:00 in Tokyo
		{"rule timezone", domain.TimeRule{StartHour: 22, EndHour: 0, Timezone: "Asia/Tokyo"}, monday1400, true},
		{"rule timezone outside", domain.TimeRule{StartHour: 9, EndHour: 17, Timezone: "Asia/Tokyo"}, monday1400, false},
		// Tuesday in Tokyo
		{"day in rule timezone", domain.TimeRule{Days: []int{2}, StartHour: 0, EndHour: 0, Timezone: "Asia/Tokyo"}, time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rule.Destination = "https://time.x.com"
			link := newLink(&domain.Routing{Time: []domain.TimeRule{tt.rule}})
			res := Evaluate(link, RequestContext{Now: tt.now})
			if tt.match {
				assert.Equal(t, "https://time.x.com", res.Destination)
			} else {
				assert.Equal(t, "https://x.com", res.Destination)
			}
		})
	}
}

func TestEvaluate_VisitorTimezone(t *testing.T) {
	rule := domain.TimeRule{StartHour: 9, EndHour: 17, Timezone: "UTC", TimezoneSource: domain.TimezoneSourceVisitor, Destination: "https://time.x.com"}
	link := newLink(&domain.Routing{Time: []domain.TimeRule{rule}})

	// 14:00 UTC is 06:00 in Los Angeles
	res := Evaluate(link, RequestContext{Now: monday1400, VisitorTimezone: "America/Los_Angeles"})
	assert.Equal(t, "https://x.com", res.Destination)

	res = Evaluate(link, RequestContext{Now: monday1400})
	assert.Equal(t, "https://time.x.com", res.Destination, "falls back to the rule timezone")

	res = Evaluate(link, RequestContext{Now: monday1400, VisitorTimezone: "Not/AZone"})
	assert.Equal(t, "https://time.x.com", res.Destination)
}

func TestEvaluate_OverlappingTimeWindowsFirstWins(t *testing.T) {
	link := newLink(&domain.Routing{Time: []domain.TimeRule{
		{StartHour: 12, EndHour: 16, Destination: "https://first.x.com"},
		{StartHour: 13, EndHour: 15, Destination: "https://second.x.com"},
	}})

	res := Evaluate(link, RequestContext{Now: monday1400})
	assert.Equal(t, "https://first.x.com", res.Destination)
	assert.Equal(t, "time:0", res.Matched())
}

func TestEvaluate_ABStablePerIdentity(t *testing.T) {
	link := newLink(&domain.Routing{ABTest: []domain.ABRule{
		{Variant: "a", Weight: 0.5, Destination: "https://a.x.com"},
		{Variant: "b", Weight: 0.5, Destination: "https://b.x.com"},
	}})

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("ip:visitor-%d", i)
		first := Evaluate(link, RequestContext{IdentityKey: key})
		for j := 0; j < 3; j++ {
			again := Evaluate(link, RequestContext{IdentityKey: key})
			assert.Equal(t, first.Destination, again.Destination)
		}
		counts[first.Detail]++
	}

	assert.InDelta(t, 1000, counts["a"], 150)
	assert.InDelta(t, 1000, counts["b"], 150)
}

func TestEvaluate_ABWeights(t *testing.T) {
	link := newLink(&domain.Routing{ABTest: []domain.ABRule{
		{Weight: 0.9, Destination: "https://a.x.com"},
		{Weight: 0.1, Destination: "https://b.x.com"},
	}})

	a := 0
	for i := 0; i < 2000; i++ {
		if Evaluate(link, RequestContext{IdentityKey: fmt.Sprintf("user:%d", i)}).Destination == "https://a.x.com" {
			a++
		}
	}
	assert.InDelta(t, 1800, a, 120)
}

func TestEvaluate_UnnamedABVariantsAreLettered(t *testing.T) {
	link := newLink(&domain.Routing{ABTest: []domain.ABRule{
		{Weight: 0.5, Destination: "https://a.x.com"},
		{Weight: 0.5, Destination: "https://b.x.com"},
	}})

	seen := map[string]string{}
	for i := 0; i < 200; i++ {
		res := Evaluate(link, RequestContext{IdentityKey: fmt.Sprintf("user:%d", i)})
		seen[res.Detail] = res.Destination
	}

	assert.Equal(t, map[string]string{"a": "https://a.x.com", "b": "https://b.x.com"}, seen)
}

func TestBucket_DependsOnLink(t *testing.T) {
	l1 := &domain.Link{ID: 1}
	l2 := &domain.Link{ID: 2}

	differs := false
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("user:%d", i)
		if Bucket(key, l1) != Bucket(key, l2) {
			differs = true
		}
		assert.GreaterOrEqual(t, Bucket(key, l1), 0.0)
		assert.Less(t, Bucket(key, l1), 1.0)
	}
	assert.True(t, differs)
}
