package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shopassist/internal/model"
)

func newHook(t *testing.T, m *Memory, merchant string, events ...string) model.Webhook {
	t.Helper()
	w, err := m.CreateWebhook(context.Background(), model.Webhook{MerchantID: merchant, URL: "https://example.test/h",
		Events: events, Secret: "s", Status: model.WebhookActive})
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	return w
}

func TestMemoryFindSubscribedExactActiveOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	a := newHook(t, m, "m1", "order.created")
	b := newHook(t, m, "m1", "order.created", "order.paid")
	newHook(t, m, "m1", "order.paid")
	newHook(t, m, "m2", "order.created")
	if _, err := m.SetWebhookStatus(ctx, b.ID, model.WebhookDisabled); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, _ := m.FindSubscribed(ctx, "m1", "order.created")
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("want only %s, got %+v", a.ID, got)
	}
	if got, _ := m.FindSubscribed(ctx, "m1", "order"); len(got) != 0 {
		t.Fatalf("prefix matched: %+v", got)
	}
}

func TestMemoryIncrementFailureCountConcurrent(t *testing.T) {
	m := NewMemory()
	w := newHook(t, m, "m1", "e")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.IncrementFailureCount(context.Background(), w.ID)
		}()
	}
	wg.Wait()
	got, _ := m.GetWebhook(context.Background(), w.ID)
	if got.FailureCount != 50 {
		t.Fatalf("lost increments: %d", got.FailureCount)
	}
	if err := m.ResetFailureCount(context.Background(), w.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, _ = m.GetWebhook(context.Background(), w.ID)
	if got.FailureCount != 0 {
		t.Fatalf("reset failed: %d", got.FailureCount)
	}
}

func TestMemoryUnknownIDs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.GetWebhook(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetWebhook: %v", err)
	}
	if _, err := m.IncrementFailureCount(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("IncrementFailureCount: %v", err)
	}
	if err := m.DeleteWebhook(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteWebhook: %v", err)
	}
	if err := m.MarkDeliverySuccess(ctx, "nope", 0, model.DeliveryResult{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkDeliverySuccess: %v", err)
	}
}

func TestMemoryGuardedTransitions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	w := newHook(t, m, "m1", "e")
	now := time.Now()
	d, _ := m.CreateDelivery(ctx, model.WebhookDelivery{WebhookID: w.ID, MerchantID: "m1", EventType: "e",
		Payload: []byte(`{}`), Status: model.DeliveryPending, NextRetryAt: &now})

	code := 500
	next := now.Add(time.Minute)
	if err := m.MarkDeliveryRetry(ctx, d.ID, 0, model.DeliveryResult{AttemptCount: 1, ResponseStatusCode: &code, NextRetryAt: &next}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	// a second writer that read attemptCount=0 loses
	if err := m.MarkDeliveryFailed(ctx, d.ID, 0, model.DeliveryResult{AttemptCount: 1}); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if err := m.MarkDeliveryFailed(ctx, d.ID, 1, model.DeliveryResult{AttemptCount: 2, ResponseStatusCode: &code, NextRetryAt: &next}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := m.GetDelivery(ctx, d.ID)
	if got.Status != model.DeliveryFailed || got.AttemptCount != 2 || got.NextRetryAt != nil || got.CompletedAt == nil {
		t.Fatalf("terminal state wrong: %+v", got)
	}
	// terminal deliveries never move again
	if err := m.MarkDeliverySuccess(ctx, d.ID, 2, model.DeliveryResult{AttemptCount: 3}); !errors.Is(err, ErrConflict) {
		t.Fatalf("terminal transition: %v", err)
	}
}

func TestMemoryPendingAndHistory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	w := newHook(t, m, "m1", "e")
	off := newHook(t, m, "m1", "e")
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due, _ := m.CreateDelivery(ctx, model.WebhookDelivery{WebhookID: w.ID, Status: model.DeliveryPending, NextRetryAt: &past})
	m.CreateDelivery(ctx, model.WebhookDelivery{WebhookID: w.ID, Status: model.DeliveryPending, NextRetryAt: &future})
	m.CreateDelivery(ctx, model.WebhookDelivery{WebhookID: off.ID, Status: model.DeliveryPending, NextRetryAt: &past})
	m.SetWebhookStatus(ctx, off.ID, model.WebhookFailed)

	got, _ := m.FindPendingDeliveries(ctx, now, 10)
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("pending: %+v", got)
	}

	hist, _ := m.ListDeliveries(ctx, w.ID, 1, 0)
	if len(hist) != 1 || hist[0].NextRetryAt == nil || !hist[0].NextRetryAt.Equal(future) {
		t.Fatalf("history should be newest first: %+v", hist)
	}
	hist, _ = m.ListDeliveries(ctx, w.ID, 10, 1)
	if len(hist) != 1 || hist[0].ID != due.ID {
		t.Fatalf("offset: %+v", hist)
	}

	st, _ := m.DeliveryStats(ctx, w.ID)
	if st.TotalDeliveries != 2 || st.PendingDeliveries != 2 || st.AvgAttemptCount != 0 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	w := newHook(t, m, "m1", "a")
	got, _ := m.GetWebhook(context.Background(), w.ID)
	got.Events[0] = "mutated"
	again, _ := m.GetWebhook(context.Background(), w.ID)
	if again.Events[0] != "a" {
		t.Fatalf("store state leaked through returned slice")
	}
}
