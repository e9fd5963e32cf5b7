package domain

import "strings"

type PlanTier string

const (
	PlanAnonymous PlanTier = "anonymous"
	PlanFree      PlanTier = "free"
	PlanPro       PlanTier = "pro"
)

func ParsePlanTier(s string) PlanTier {
	switch PlanTier(strings.ToLower(strings.TrimSpace(s))) {
	case PlanPro:
		return PlanPro
	case PlanFree:
		return PlanFree
	}
	return PlanAnonymous
}

// Identity is supplied by the upstream auth layer. UserID is empty for
// anonymous callers, who are keyed by their hashed client address instead.
type Identity struct {
	UserID string
	Tier   PlanTier
	IPHash string
}

func (i Identity) IsAnonymous() bool {
	return i.UserID == ""
}

func (i Identity) IsPro() bool {
	return !i.IsAnonymous() && i.Tier == PlanPro
}

// Key identifies the caller for rate limiting and A/B bucketing.
func (i Identity) Key() string {
	if i.IsAnonymous() {
		return "ip:" + i.IPHash
	}
	return "user:" + i.UserID
}

// EffectiveTier treats a caller without a user id as anonymous whatever
// tier header they send.
func (i Identity) EffectiveTier() PlanTier {
	if i.IsAnonymous() {
		return PlanAnonymous
	}
	if i.Tier == PlanAnonymous {
		return PlanFree
	}
	return i.Tier
}
