package domain

import "time"

const MaxDestinationLength = 2048

// Link is a slug mapped to a destination, scoped to the default short
// domain (CustomDomain == "") or to a custom domain.
type Link struct {
	ID           int64      `json:"id"`
	Slug         string     `json:"slug"`
	OwnerID      string     `json:"owner_id,omitempty"`
	Destination  string     `json:"destination"`
	CustomDomain string     `json:"custom_domain,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	MaxClicks    *int64     `json:"max_clicks,omitempty"`
	ClickCount   int64      `json:"click_count"`
	PasswordHash string     `json:"password_hash,omitempty"`
	UTMTemplate  string     `json:"utm_template,omitempty"`
	Routing      *Routing   `json:"routing,omitempty"`
}

// IsExpired reports whether the link is past its expiry time or has used
// up its click allowance. Expiry is terminal.
func (l *Link) IsExpired(now time.Time) bool {
	if l.ExpiresAt != nil && !now.Before(*l.ExpiresAt) {
		return true
	}
	if l.MaxClicks != nil && l.ClickCount >= *l.MaxClicks {
		return true
	}
	return false
}

func (l *Link) IsAnonymous() bool {
	return l.OwnerID == ""
}

func (l *Link) IsPasswordProtected() bool {
	return l.PasswordHash != ""
}

func (l *Link) HasRouting() bool {
	return l.Routing != nil && !l.Routing.IsEmpty()
}

// LinkView is the public representation returned by the API.
type LinkView struct {
	Slug              string     `json:"slug"`
	ShortURL          string     `json:"short_url"`
	Destination       string     `json:"destination"`
	CustomDomain      string     `json:"custom_domain,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	MaxClicks         *int64     `json:"max_clicks,omitempty"`
	ClickCount        int64      `json:"click_count"`
	PasswordProtected bool       `json:"password_protected"`
	UTMTemplate       string     `json:"utm_template,omitempty"`
	Routing           *Routing   `json:"routing,omitempty"`
}

func (l *Link) View(shortURL string) LinkView {
	return LinkView{
		Slug:              l.Slug,
		ShortURL:          shortURL,
		Destination:       l.Destination,
		CustomDomain:      l.CustomDomain,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
		ExpiresAt:         l.ExpiresAt,
		MaxClicks:         l.MaxClicks,
		ClickCount:        l.ClickCount,
		PasswordProtected: l.IsPasswordProtected(),
		UTMTemplate:       l.UTMTemplate,
		Routing:           l.Routing,
	}
}

type CreateLinkRequest struct {
	URL          string     `json:"url" validate:"required,max=2048,httpurl"`
	CustomSlug   string     `json:"custom_slug,omitempty" validate:"omitempty,min=3,max=50,slug"`
	CustomDomain string     `json:"custom_domain,omitempty" validate:"omitempty,fqdn"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ExpiryHours  int        `json:"expiry_hours,omitempty" validate:"omitempty,gte=1"`
	MaxClicks    *int64     `json:"max_clicks,omitempty" validate:"omitempty,gte=1"`
	Password     string     `json:"password,omitempty" validate:"omitempty,min=4,max=72"`
	UTMTemplate  string     `json:"utm_template,omitempty" validate:"omitempty,max=512"`
}

// UpdateLinkRequest carries a partial update. Nil fields are left alone;
// routing categories present in Routing replace the stored ones wholesale.
type UpdateLinkRequest struct {
	Destination    *string    `json:"destination,omitempty" validate:"omitempty,max=2048,httpurl"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ClearExpiresAt bool       `json:"clear_expires_at,omitempty"`
	MaxClicks      *int64     `json:"max_clicks,omitempty" validate:"omitempty,gte=1"`
	Password       *string    `json:"password,omitempty" validate:"omitempty,max=72"`
	UTMTemplate    *string    `json:"utm_template,omitempty" validate:"omitempty,max=512"`
	Routing        *Routing   `json:"routing,omitempty"`
}

type RenameLinkRequest struct {
	NewSlug string `json:"new_slug" validate:"required,min=3,max=50,slug"`
}

type BulkImportRequest struct {
	Links []CreateLinkRequest `json:"links" validate:"required,min=1,max=100,dive"`
}

type BulkImportFailure struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

type BulkImportResult struct {
	Imported int                 `json:"imported"`
	Failed   int                 `json:"failed"`
	Links    []LinkView          `json:"links"`
	Errors   []BulkImportFailure `json:"errors,omitempty"`
}

type LinkList struct {
	Links      []LinkView `json:"links"`
	Total      int64      `json:"total"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalPages int        `json:"totalPages"`
}
