package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound never distinguishes a deleted link from one that never existed.
	ErrNotFound          = errors.New("not found")
	ErrExpired           = errors.New("link has expired")
	ErrPasswordRequired  = errors.New("password required")
	ErrPasswordIncorrect = errors.New("password incorrect")
	ErrSlugTaken         = errors.New("slug already taken")
	ErrIdentityRequired  = errors.New("authenticated identity required")
	ErrPlanRequired      = errors.New("feature requires the pro plan")
	ErrForbidden         = errors.New("not the owner of this resource")
	ErrWebhookLimit      = errors.New("webhook limit reached")
	ErrExpiryInPast      = errors.New("expires_at must be in the future")
)

type RateLimitedError struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit of %d exceeded, resets at %s", e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

// RetryAfter is rounded up to whole seconds and is never below one.
func (e *RateLimitedError) RetryAfter(now time.Time) time.Duration {
	d := e.ResetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}

// InvalidRoutingConfigError is returned on the write path only.
type InvalidRoutingConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidRoutingConfigError) Error() string {
	if e.Field == "" {
		return "invalid routing config: " + e.Reason
	}
	return fmt.Sprintf("invalid routing config: %s: %s", e.Field, e.Reason)
}

// DeliveryFailedError describes one failed webhook attempt. It is logged
// and retried, never returned to an HTTP caller.
type DeliveryFailedError struct {
	DeliveryID string
	Attempt    int
	StatusCode int
	Err        error
}

func (e *DeliveryFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery %s attempt %d failed: %v", e.DeliveryID, e.Attempt, e.Err)
	}
	return fmt.Sprintf("delivery %s attempt %d failed with status %d", e.DeliveryID, e.Attempt, e.StatusCode)
}

func (e *DeliveryFailedError) Unwrap() error {
	return e.Err
}

// ValidationError rejects a request field that passed decoding but not a
// business rule.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}
