package domain

import (
	"encoding/json"
	"time"
)

// Subscription is an owner-scoped webhook endpoint.
type Subscription struct {
	ID        string    `json:"webhook_id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name,omitempty"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Slug      string    `json:"slug,omitempty"`
	Secret    string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Wants reports whether the subscription should receive eventType for slug.
// An empty slug filter matches every link of the owner.
func (s *Subscription) Wants(eventType EventType, slug string) bool {
	if s.Slug != "" && s.Slug != slug {
		return false
	}
	for _, e := range s.Events {
		if e == string(eventType) {
			return true
		}
	}
	return false
}

type CreateWebhookRequest struct {
	URL    string   `json:"url" validate:"required,max=2048,httpurl"`
	Events []string `json:"events" validate:"required,min=1,dive,event_type"`
	Name   string   `json:"name,omitempty" validate:"omitempty,max=100"`
	Slug   string   `json:"slug,omitempty" validate:"omitempty,slug"`
	// Secret is generated when empty.
	Secret string `json:"secret,omitempty" validate:"omitempty,min=16,max=128"`
}

// CreatedWebhook is returned once, on creation; the secret is not
// retrievable afterwards.
type CreatedWebhook struct {
	Subscription
	Secret string `json:"secret"`
}

// Delivery is one logical notification to one subscription. ID stays the
// same across every retry.
type Delivery struct {
	ID            string          `json:"id"`
	WebhookID     string          `json:"webhook_id"`
	OwnerID       string          `json:"owner_id"`
	EventType     EventType       `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	AttemptCount  int             `json:"attempt_count"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastStatus    int             `json:"last_status,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// WebhookPayload is the JSON body POSTed to subscribers.
type WebhookPayload struct {
	Event      EventType       `json:"event"`
	Timestamp  int64           `json:"timestamp"`
	WebhookID  string          `json:"webhook_id"`
	DeliveryID string          `json:"delivery_id"`
	Data       json.RawMessage `json:"data"`
}
