package domain

import (
	"fmt"
	"time"

	"recurbot/internal/recur"
)

// Event is a named recurring announcement.
type Event struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Definition recur.Definition `json:"definition"`
	WebhookURL string           `json:"webhook_url"`
	Username   string           `json:"username,omitempty"`
	Message    string           `json:"message"`
	Enabled    bool             `json:"enabled"`
	// Anchor is the last fired occurrence, or the seed of a new event.
	Anchor recur.RecurResult `json:"-"`
	// NextFire is nil when the event has nothing left to fire.
	NextFire  *time.Time `json:"next_fire,omitempty"`
	Misses    int        `json:"misses"`
	LastError string     `json:"last_error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Delivery states.
const (
	DeliveryQueued    = "queued"
	DeliveryRunning   = "running"
	DeliverySucceeded = "succeeded"
	DeliveryFailed    = "failed"
)

// Delivery is one queued announcement for one fired occurrence.
type Delivery struct {
	ID                string    `json:"id"`
	EventID           string    `json:"event_id"`
	Type              string    `json:"type"`
	Payload           []byte    `json:"payload"`
	FireAt            time.Time `json:"fire_at"`
	Attempts          int       `json:"attempts"`
	MaxAttempts       int       `json:"max_attempts"`
	State             string    `json:"state"`
	NextRunAt         time.Time `json:"next_run_at"`
	VisibilityTimeout int       `json:"visibility_timeout"` // seconds
	IdempotencyKey    string    `json:"idempotency_key,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// FireKey identifies one occurrence of an event, so that re-enqueueing the
// same occurrence after a crash is a no-op.
func FireKey(eventID string, fireAt time.Time) string {
	return fmt.Sprintf("%s@%d", eventID, fireAt.Unix())
}
