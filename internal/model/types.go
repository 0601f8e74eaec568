package model

import (
	"encoding/json"
	"time"
)

// Core webhook domain types shared by the store, engine and API layers.

type WebhookStatus string

const (
	WebhookActive   WebhookStatus = "active"
	WebhookDisabled WebhookStatus = "disabled"
	WebhookFailed   WebhookStatus = "failed"
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Terminal reports whether no further attempts will be made for a delivery in this status.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySuccess || s == DeliveryFailed
}

// Webhook is a merchant-owned destination for event notifications.
// Secret is never serialized; it leaves the service only through CreatedWebhook.
type Webhook struct {
	ID           string        `json:"webhookId"`
	MerchantID   string        `json:"merchantId"`
	URL          string        `json:"url"`
	Events       []string      `json:"events"`
	Secret       string        `json:"-"`
	Status       WebhookStatus `json:"status"`
	FailureCount int           `json:"failureCount"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Subscribes reports whether the webhook listens for eventType (exact match).
func (w Webhook) Subscribes(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// CreatedWebhook is returned once at creation time and is the only read of the secret.
type CreatedWebhook struct {
	WebhookID string   `json:"webhookId"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	Secret    string   `json:"secret"`
}

// WebhookPatch carries owner edits; nil/empty fields are left untouched.
type WebhookPatch struct {
	URL    *string  `json:"url,omitempty"`
	Events []string `json:"events,omitempty"`
}

// WebhookDelivery is one event notification bound for one webhook.
type WebhookDelivery struct {
	ID                  string          `json:"deliveryId"`
	WebhookID           string          `json:"webhookId"`
	MerchantID          string          `json:"merchantId"`
	EventType           string          `json:"eventType"`
	Payload             json.RawMessage `json:"payload"`
	Status              DeliveryStatus  `json:"status"`
	AttemptCount        int             `json:"attemptCount"`
	ResponseStatusCode  *int            `json:"responseStatusCode"`
	ResponseBodyExcerpt string          `json:"responseBodyExcerpt,omitempty"`
	NextRetryAt         *time.Time      `json:"nextRetryAt"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
	CompletedAt         *time.Time      `json:"completedAt,omitempty"`
}

// DeliveryResult is the recorded outcome of one attempt.
type DeliveryResult struct {
	AttemptCount        int
	ResponseStatusCode  *int
	ResponseBodyExcerpt string
	NextRetryAt         *time.Time
}

type DeliveryStats struct {
	TotalDeliveries      int64   `json:"totalDeliveries"`
	SuccessfulDeliveries int64   `json:"successfulDeliveries"`
	FailedDeliveries     int64   `json:"failedDeliveries"`
	PendingDeliveries    int64   `json:"pendingDeliveries"`
	AvgAttemptCount      float64 `json:"avgAttemptCount"`
}

// DeliveryEvent is published to the live feed after every recorded outcome.
type DeliveryEvent struct {
	DeliveryID         string         `json:"deliveryId"`
	WebhookID          string         `json:"webhookId"`
	EventType          string         `json:"eventType"`
	Status             DeliveryStatus `json:"status"`
	AttemptCount       int            `json:"attemptCount"`
	ResponseStatusCode *int           `json:"responseStatusCode,omitempty"`
	NextRetryAt        *time.Time     `json:"nextRetryAt,omitempty"`
	TS                 string         `json:"ts"`
}
