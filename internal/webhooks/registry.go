package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"strings"

	"shopassist/internal/model"
	"shopassist/internal/store"
)

const secretBytes = 32

// Registry owns webhook records: validation, secret issuance, status and the
// consecutive-failure counter. Counter changes go straight to the store's
// atomic operations.
type Registry struct {
	store store.WebhookStore
}

func NewRegistry(s store.WebhookStore) *Registry {
	return &Registry{store: s}
}

// Create validates and persists a new active webhook. The returned secret is
// the only time it is ever handed out.
func (r *Registry) Create(ctx context.Context, merchantID, rawURL string, events []string) (model.CreatedWebhook, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return model.CreatedWebhook{}, validationError("merchantId is required")
	}
	u, err := validateURL(rawURL)
	if err != nil {
		return model.CreatedWebhook{}, err
	}
	evs, err := normalizeEvents(events)
	if err != nil {
		return model.CreatedWebhook{}, err
	}
	secret, err := newSecret()
	if err != nil {
		return model.CreatedWebhook{}, storeError(err, "generate secret", TextCodeWebhookNotFound)
	}
	w, err := r.store.CreateWebhook(ctx, model.Webhook{
		MerchantID: merchantID,
		URL:        u,
		Events:     evs,
		Secret:     secret,
		Status:     model.WebhookActive,
	})
	if err != nil {
		return model.CreatedWebhook{}, storeError(err, "create webhook", TextCodeWebhookNotFound)
	}
	return model.CreatedWebhook{WebhookID: w.ID, URL: w.URL, Events: w.Events, Secret: secret}, nil
}

func (r *Registry) Get(ctx context.Context, id string) (model.Webhook, error) {
	w, err := r.store.GetWebhook(ctx, id)
	if err != nil {
		return model.Webhook{}, storeError(err, "webhook "+id, TextCodeWebhookNotFound)
	}
	return w, nil
}

// GetOwned is Get restricted to merchantID; another merchant's webhook reads as not found.
func (r *Registry) GetOwned(ctx context.Context, merchantID, id string) (model.Webhook, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return model.Webhook{}, err
	}
	if w.MerchantID != merchantID {
		return model.Webhook{}, notFoundError("webhook "+id+": not found", TextCodeWebhookNotFound)
	}
	return w, nil
}

func (r *Registry) List(ctx context.Context, merchantID string) ([]model.Webhook, error) {
	ws, err := r.store.ListWebhooks(ctx, merchantID)
	if err != nil {
		return nil, storeError(err, "list webhooks", TextCodeWebhookNotFound)
	}
	return ws, nil
}

// Update applies an owner edit with the same validation as Create.
func (r *Registry) Update(ctx context.Context, id string, patch model.WebhookPatch) (model.Webhook, error) {
	if patch.URL == nil && patch.Events == nil {
		return model.Webhook{}, validationError("nothing to update: url or events required")
	}
	if patch.URL != nil {
		u, err := validateURL(*patch.URL)
		if err != nil {
			return model.Webhook{}, err
		}
		patch.URL = &u
	}
	if patch.Events != nil {
		evs, err := normalizeEvents(patch.Events)
		if err != nil {
			return model.Webhook{}, err
		}
		patch.Events = evs
	}
	w, err := r.store.UpdateWebhook(ctx, id, patch)
	if err != nil {
		return model.Webhook{}, storeError(err, "webhook "+id, TextCodeWebhookNotFound)
	}
	return w, nil
}

// Disable is idempotent; findSubscribed excludes the webhook afterwards.
func (r *Registry) Disable(ctx context.Context, id string) (model.Webhook, error) {
	w, err := r.store.SetWebhookStatus(ctx, id, model.WebhookDisabled)
	if err != nil {
		return model.Webhook{}, storeError(err, "webhook "+id, TextCodeWebhookNotFound)
	}
	return w, nil
}

// Enable re-activates a webhook with a fresh failure counter. Pending
// deliveries that were abandoned while it was inactive become due again.
func (r *Registry) Enable(ctx context.Context, id string) (model.Webhook, error) {
	if err := r.store.ResetFailureCount(ctx, id); err != nil {
		return model.Webhook{}, storeError(err, "webhook "+id, TextCodeWebhookNotFound)
	}
	w, err := r.store.SetWebhookStatus(ctx, id, model.WebhookActive)
	if err != nil {
		return model.Webhook{}, storeError(err, "webhook "+id, TextCodeWebhookNotFound)
	}
	return w, nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	return storeError(r.store.DeleteWebhook(ctx, id), "webhook "+id, TextCodeWebhookNotFound)
}

func (r *Registry) FindSubscribed(ctx context.Context, merchantID, eventType string) ([]model.Webhook, error) {
	ws, err := r.store.FindSubscribed(ctx, merchantID, eventType)
	if err != nil {
		return nil, storeError(err, "find subscribed webhooks", TextCodeWebhookNotFound)
	}
	return ws, nil
}

func (r *Registry) IncrementFailureCount(ctx context.Context, id string) (int, error) {
	n, err := r.store.IncrementFailureCount(ctx, id)
	if err != nil {
		return 0, storeError(err, "webhook "+id, TextCodeWebhookNotFound)
	}
	return n, nil
}

func (r *Registry) ResetFailureCount(ctx context.Context, id string) error {
	return storeError(r.store.ResetFailureCount(ctx, id), "webhook "+id, TextCodeWebhookNotFound)
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "https://") {
		return "", validationError("url must start with https://")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" || u.Hostname() == "" {
		return "", validationError("url is not a valid URI")
	}
	return raw, nil
}

// normalizeEvents trims, drops empties and de-duplicates, keeping first-seen order.
func normalizeEvents(events []string) ([]string, error) {
	seen := make(map[string]bool, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, validationError("at least one event type is required")
	}
	return out, nil
}

func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
