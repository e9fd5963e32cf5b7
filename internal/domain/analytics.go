package domain

import "time"

type EventType string

const (
	EventLinkClicked EventType = "link.clicked"
	EventLinkCreated EventType = "link.created"
	EventLinkUpdated EventType = "link.updated"
	EventLinkDeleted EventType = "link.deleted"
)

var AllEventTypes = []EventType{EventLinkClicked, EventLinkCreated, EventLinkUpdated, EventLinkDeleted}

func IsValidEventType(s string) bool {
	for _, e := range AllEventTypes {
		if string(e) == s {
			return true
		}
	}
	return false
}

// RedirectEvent is produced once per resolved redirect and never mutated.
type RedirectEvent struct {
	LinkID              int64     `json:"link_id"`
	Slug                string    `json:"slug"`
	OwnerID             string    `json:"owner_id,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
	ResolvedDestination string    `json:"resolved_destination"`
	Device              string    `json:"device"`
	Country             string    `json:"country,omitempty"`
	City                string    `json:"city,omitempty"`
	ReferrerDomain      string    `json:"referrer_domain,omitempty"`
	Browser             string    `json:"browser"`
	OS                  string    `json:"os"`
	IPHash              string    `json:"ip_hash"`
	RoutingRuleMatched  string    `json:"routing_rule_matched"`
}

// LinkEvent is the payload of link lifecycle webhooks.
type LinkEvent struct {
	Type      EventType `json:"-"`
	Link      LinkView  `json:"link"`
	OwnerID   string    `json:"-"`
	Timestamp time.Time `json:"-"`
}

type LinkStats struct {
	Slug        string           `json:"slug"`
	ClickCount  int64            `json:"total_clicks"`
	CreatedAt   time.Time        `json:"created_at"`
	MaxClicks   *int64           `json:"max_clicks,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
	Expired     bool             `json:"expired"`
	RuleMatches map[string]int64 `json:"rule_matches"`
}

type ABVariantResult struct {
	Variant     string  `json:"variant"`
	Destination string  `json:"destination"`
	Weight      float64 `json:"weight"`
	Clicks      int64   `json:"clicks"`
}

type ABTestResults struct {
	Slug           string            `json:"slug"`
	VariantAClicks int64             `json:"variant_a_clicks"`
	VariantBClicks int64             `json:"variant_b_clicks"`
	Variants       []ABVariantResult `json:"variants"`
}
