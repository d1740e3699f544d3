// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (login limiter).
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrNotFound is returned by single-row lookups when no row matches.
// Callers use errors.Is instead of reaching for pgx.ErrNoRows directly.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned by InsertSubscriber when the email is already subscribed.
var ErrDuplicateEmail = errors.New("email already subscribed")

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrLimiterDisabled is returned by NoopRateLimiter.CheckHealth when Redis is not configured.
var ErrLimiterDisabled = errors.New("rate limiter disabled")

// Subscription statuses stored in subscriptions.status.
const (
	StatusPendingConfirmation = "pending_confirmation"
	StatusConfirmed           = "confirmed"
)

// User represents a row in the users table.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
}

// Subscriber represents a row in the subscriptions table.
type Subscriber struct {
	ID           uuid.UUID
	Email        string
	Name         string
	Status       string
	SubscribedAt time.Time
}

// NewsletterIssue represents a row in the newsletter_issues table.
// Never updated after insert.
type NewsletterIssue struct {
	ID          uuid.UUID
	Title       string
	TextContent string
	HTMLContent string
	PublishedAt time.Time
}

// RateLimit defines a rate limiting policy for a single action.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // rolling window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is hit
}
