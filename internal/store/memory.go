package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"shopassist/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// All mutations happen under one mutex, which also makes the failure
// counter increment atomic.
type Memory struct {
	mu         sync.Mutex
	hooks      map[string]*model.Webhook         // id -> webhook
	hooksByMer map[string][]string               // merchant -> webhook ids, insertion order
	deliveries map[string]*model.WebhookDelivery // id -> delivery
	byHook     map[string][]string               // webhook -> delivery ids, insertion order
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		hooks:      map[string]*model.Webhook{},
		hooksByMer: map[string][]string{},
		deliveries: map[string]*model.WebhookDelivery{},
		byHook:     map[string][]string{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := m.now()
	w.CreatedAt, w.UpdatedAt = now, now
	w.Events = append([]string(nil), w.Events...)
	cp := w
	m.hooks[w.ID] = &cp
	m.hooksByMer[w.MerchantID] = append(m.hooksByMer[w.MerchantID], w.ID)
	return w, nil
}

func (m *Memory) GetWebhook(ctx context.Context, id string) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok {
		return model.Webhook{}, ErrNotFound
	}
	return copyWebhook(w), nil
}

func (m *Memory) ListWebhooks(ctx context.Context, merchantID string) ([]model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Webhook{}
	for _, id := range m.hooksByMer[merchantID] {
		if w, ok := m.hooks[id]; ok {
			out = append(out, copyWebhook(w))
		}
	}
	return out, nil
}

func (m *Memory) FindSubscribed(ctx context.Context, merchantID, eventType string) ([]model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Webhook
	for _, id := range m.hooksByMer[merchantID] {
		w, ok := m.hooks[id]
		if !ok || w.Status != model.WebhookActive {
			continue
		}
		if w.Subscribes(eventType) {
			out = append(out, copyWebhook(w))
		}
	}
	return out, nil
}

func (m *Memory) UpdateWebhook(ctx context.Context, id string, patch model.WebhookPatch) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok {
		return model.Webhook{}, ErrNotFound
	}
	if patch.URL != nil {
		w.URL = *patch.URL
	}
	if len(patch.Events) > 0 {
		w.Events = append([]string(nil), patch.Events...)
	}
	w.UpdatedAt = m.now()
	return copyWebhook(w), nil
}

func (m *Memory) SetWebhookStatus(ctx context.Context, id string, status model.WebhookStatus) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok {
		return model.Webhook{}, ErrNotFound
	}
	if w.Status != status {
		w.Status = status
		w.UpdatedAt = m.now()
	}
	return copyWebhook(w), nil
}

func (m *Memory) DeleteWebhook(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.hooks, id)
	ids := m.hooksByMer[w.MerchantID]
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	m.hooksByMer[w.MerchantID] = out
	return nil
}

func (m *Memory) IncrementFailureCount(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok {
		return 0, ErrNotFound
	}
	w.FailureCount++
	w.UpdatedAt = m.now()
	return w.FailureCount, nil
}

func (m *Memory) ResetFailureCount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok {
		return ErrNotFound
	}
	if w.FailureCount != 0 {
		w.FailureCount = 0
		w.UpdatedAt = m.now()
	}
	return nil
}

// Deliveries

func (m *Memory) CreateDelivery(ctx context.Context, d model.WebhookDelivery) (model.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := m.now()
	d.CreatedAt, d.UpdatedAt = now, now
	cp := copyDelivery(&d)
	m.deliveries[d.ID] = &cp
	m.byHook[d.WebhookID] = append(m.byHook[d.WebhookID], d.ID)
	return copyDelivery(&d), nil
}

func (m *Memory) GetDelivery(ctx context.Context, id string) (model.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return model.WebhookDelivery{}, ErrNotFound
	}
	return copyDelivery(d), nil
}

// ListDeliveries returns newest first.
func (m *Memory) ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]model.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byHook[webhookID]
	out := []model.WebhookDelivery{}
	if offset < 0 {
		offset = 0
	}
	for i := len(ids) - 1 - offset; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if d, ok := m.deliveries[ids[i]]; ok {
			out = append(out, copyDelivery(d))
		}
	}
	return out, nil
}

func (m *Memory) DeliveryStats(ctx context.Context, webhookID string) (model.DeliveryStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st model.DeliveryStats
	attempts := 0
	for _, id := range m.byHook[webhookID] {
		d, ok := m.deliveries[id]
		if !ok {
			continue
		}
		st.TotalDeliveries++
		attempts += d.AttemptCount
		switch d.Status {
		case model.DeliverySuccess:
			st.SuccessfulDeliveries++
		case model.DeliveryFailed:
			st.FailedDeliveries++
		case model.DeliveryPending:
			st.PendingDeliveries++
		}
	}
	if st.TotalDeliveries > 0 {
		st.AvgAttemptCount = float64(attempts) / float64(st.TotalDeliveries)
	}
	return st, nil
}

// FindPendingDeliveries returns due pending deliveries of active webhooks, oldest due first.
func (m *Memory) FindPendingDeliveries(ctx context.Context, now time.Time, limit int) ([]model.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.WebhookDelivery{}
	for _, d := range m.deliveries {
		if d.Status != model.DeliveryPending || d.NextRetryAt == nil || d.NextRetryAt.After(now) {
			continue
		}
		w, ok := m.hooks[d.WebhookID]
		if !ok || w.Status != model.WebhookActive {
			continue
		}
		out = append(out, copyDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextRetryAt.Equal(*out[j].NextRetryAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].NextRetryAt.Before(*out[j].NextRetryAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkDeliverySuccess(ctx context.Context, id string, expectedAttempts int, res model.DeliveryResult) error {
	return m.transition(id, expectedAttempts, model.DeliverySuccess, res)
}

func (m *Memory) MarkDeliveryRetry(ctx context.Context, id string, expectedAttempts int, res model.DeliveryResult) error {
	return m.transition(id, expectedAttempts, model.DeliveryPending, res)
}

func (m *Memory) MarkDeliveryFailed(ctx context.Context, id string, expectedAttempts int, res model.DeliveryResult) error {
	return m.transition(id, expectedAttempts, model.DeliveryFailed, res)
}

func (m *Memory) transition(id string, expectedAttempts int, status model.DeliveryStatus, res model.DeliveryResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	if d.Status != model.DeliveryPending || d.AttemptCount != expectedAttempts {
		return ErrConflict
	}
	now := m.now()
	d.Status = status
	d.AttemptCount = res.AttemptCount
	d.ResponseStatusCode = copyInt(res.ResponseStatusCode)
	d.ResponseBodyExcerpt = res.ResponseBodyExcerpt
	d.UpdatedAt = now
	if status.Terminal() {
		d.NextRetryAt = nil
		d.CompletedAt = &now
	} else {
		d.NextRetryAt = copyTime(res.NextRetryAt)
	}
	return nil
}

func copyWebhook(w *model.Webhook) model.Webhook {
	out := *w
	out.Events = append([]string(nil), w.Events...)
	return out
}

func copyDelivery(d *model.WebhookDelivery) model.WebhookDelivery {
	out := *d
	out.Payload = append([]byte(nil), d.Payload...)
	out.ResponseStatusCode = copyInt(d.ResponseStatusCode)
	out.NextRetryAt = copyTime(d.NextRetryAt)
	out.CompletedAt = copyTime(d.CompletedAt)
	return out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}
