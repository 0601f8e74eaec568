package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"shopassist/internal/model"
	"shopassist/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type scheduledCall struct {
	at time.Time
	fn func()
}

// manualScheduler records callbacks; tests fire them explicitly.
type manualScheduler struct {
	mu    sync.Mutex
	items []scheduledCall
	ats   []time.Time
}

func (m *manualScheduler) Schedule(at time.Time, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, scheduledCall{at: at, fn: fn})
	m.ats = append(m.ats, at)
}

func (m *manualScheduler) take() []scheduledCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.items
	m.items = nil
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

func (m *manualScheduler) scheduledAt() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.ats...)
}

// receiver is a TLS destination whose status code the test controls.
type receiver struct {
	srv    *httptest.Server
	status atomic.Int32
	hits   atomic.Int32
	delay  atomic.Int64

	mu   sync.Mutex
	reqs []recordedRequest
}

type recordedRequest struct {
	header http.Header
	body   []byte
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()
	rc := &receiver{}
	rc.status.Store(int32(status))
	rc.srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rc.hits.Add(1)
		rc.mu.Lock()
		rc.reqs = append(rc.reqs, recordedRequest{header: r.Header.Clone(), body: b})
		rc.mu.Unlock()
		if d := time.Duration(rc.delay.Load()); d > 0 {
			time.Sleep(d)
		}
		code := int(rc.status.Load())
		w.WriteHeader(code)
		_, _ = w.Write([]byte(http.StatusText(code)))
	}))
	t.Cleanup(rc.srv.Close)
	return rc
}

func (rc *receiver) requests() []recordedRequest {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]recordedRequest(nil), rc.reqs...)
}

type harness struct {
	t      *testing.T
	store  *store.Memory
	engine *Engine
	sched  *manualScheduler
	clock  *fakeClock
	rc     *receiver
	events *recordingNotifier
}

func newHarness(t *testing.T, cfg Config, status int, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		store:  store.NewMemory(),
		sched:  &manualScheduler{},
		clock:  newFakeClock(),
		rc:     newReceiver(t, status),
		events: &recordingNotifier{},
	}
	exec := NewExecutor(h.rc.srv.Client(), 2*time.Second)
	base := []Option{WithScheduler(h.sched), WithClock(h.clock.Now), WithNotifier(h.events)}
	h.engine = NewEngine(h.store, exec, cfg, append(base, opts...)...)
	return h
}

func (h *harness) webhook(events ...string) model.CreatedWebhook {
	h.t.Helper()
	cw, err := h.engine.CreateWebhook(context.Background(), "m1", h.rc.srv.URL+"/hook", events)
	if err != nil {
		h.t.Fatalf("create webhook: %v", err)
	}
	return cw
}

// runAll fires scheduled callbacks in time order, moving the clock forward to
// each callback's time, until nothing is left.
func (h *harness) runAll() {
	h.t.Helper()
	for i := 0; i < 1000; i++ {
		calls := h.sched.take()
		if len(calls) == 0 {
			return
		}
		for _, c := range calls {
			if c.at.After(h.clock.Now()) {
				h.clock.Set(c.at)
			}
			c.fn()
		}
	}
	h.t.Fatal("scheduler did not drain")
}

func (h *harness) delivery(id string) model.WebhookDelivery {
	h.t.Helper()
	d, err := h.store.GetDelivery(context.Background(), id)
	if err != nil {
		h.t.Fatalf("get delivery %s: %v", id, err)
	}
	return d
}

func (h *harness) hook(id string) model.Webhook {
	h.t.Helper()
	w, err := h.store.GetWebhook(context.Background(), id)
	if err != nil {
		h.t.Fatalf("get webhook %s: %v", id, err)
	}
	return w
}

func (h *harness) trigger(eventType string, payload any) []string {
	h.t.Helper()
	ids, err := h.engine.TriggerEvent(context.Background(), "m1", eventType, payload)
	if err != nil {
		h.t.Fatalf("trigger: %v", err)
	}
	return ids
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.DeliveryEvent
}

func (n *recordingNotifier) Publish(webhookID string, evt model.DeliveryEvent) {
	n.mu.Lock()
	n.events = append(n.events, evt)
	n.mu.Unlock()
}

func (n *recordingNotifier) statuses() []model.DeliveryStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.DeliveryStatus, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Status)
	}
	return out
}

func assertCategory(t *testing.T, err error, want goerrors.Category) *goerrors.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T: %v", err, err)
	}
	if rich.Category != want {
		t.Fatalf("expected category %q, got %q", want, rich.Category)
	}
	return rich
}
