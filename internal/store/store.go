package store

import (
	"context"
	"errors"
	"time"

	"shopassist/internal/model"
)

// WebhookStore persists webhook records. Failure counter mutations must be
// atomic per webhook: concurrent deliveries for the same webhook may race.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error)
	GetWebhook(ctx context.Context, id string) (model.Webhook, error)
	ListWebhooks(ctx context.Context, merchantID string) ([]model.Webhook, error)
	FindSubscribed(ctx context.Context, merchantID, eventType string) ([]model.Webhook, error)
	UpdateWebhook(ctx context.Context, id string, patch model.WebhookPatch) (model.Webhook, error)
	SetWebhookStatus(ctx context.Context, id string, status model.WebhookStatus) (model.Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error

	IncrementFailureCount(ctx context.Context, id string) (int, error)
	ResetFailureCount(ctx context.Context, id string) error
}

// DeliveryStore persists delivery records. The Mark* transitions are
// conditional on the delivery still being pending with expectedAttempts
// recorded; otherwise they return ErrConflict and change nothing.
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, d model.WebhookDelivery) (model.WebhookDelivery, error)
	GetDelivery(ctx context.Context, id string) (model.WebhookDelivery, error)
	ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]model.WebhookDelivery, error)
	DeliveryStats(ctx context.Context, webhookID string) (model.DeliveryStats, error)
	FindPendingDeliveries(ctx context.Context, now time.Time, limit int) ([]model.WebhookDelivery, error)

	MarkDeliverySuccess(ctx context.Context, id string, expectedAttempts int, res model.DeliveryResult) error
	MarkDeliveryRetry(ctx context.Context, id string, expectedAttempts int, res model.DeliveryResult) error
	MarkDeliveryFailed(ctx context.Context, id string, expectedAttempts int, res model.DeliveryResult) error
}

// Store is the persistence interface used by the webhook engine and API server.
type Store interface {
	WebhookStore
	DeliveryStore
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflicting update")
)
