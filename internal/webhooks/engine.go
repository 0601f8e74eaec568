package webhooks

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shopassist/internal/lock"
	"shopassist/internal/metrics"
	"shopassist/internal/model"
	"shopassist/internal/store"
)

// FailureCounting selects when a webhook's consecutive-failure counter moves.
type FailureCounting string

const (
	// CountPerDelivery increments once when a delivery fails terminally.
	CountPerDelivery FailureCounting = "delivery"
	// CountPerAttempt increments on every failed HTTP attempt.
	CountPerAttempt FailureCounting = "attempt"
)

func (f FailureCounting) Valid() bool { return f == CountPerDelivery || f == CountPerAttempt }

type Config struct {
	MaxAttempts      int
	MaxFailureCount  int
	Retry            RetrySchedule
	FailureCounting  FailureCounting
	LockTTL          time.Duration
	DueSkew          time.Duration
	SweepBatch       int
	SweepConcurrency int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		MaxFailureCount:  10,
		Retry:            DefaultRetrySchedule(),
		FailureCounting:  CountPerDelivery,
		LockTTL:          30 * time.Second,
		DueSkew:          time.Second,
		SweepBatch:       100,
		SweepConcurrency: 8,
	}
}

// Notifier receives a DeliveryEvent after every recorded outcome.
type Notifier interface {
	Publish(webhookID string, evt model.DeliveryEvent)
}

// Engine drives deliveries from trigger to a terminal state. Construct one per
// process and share it; it holds no package-level state.
type Engine struct {
	cfg      Config
	store    store.Store
	registry *Registry
	sender   Sender
	sched    Scheduler
	locker   lock.Locker
	notify   Notifier
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Engine)

func WithScheduler(s Scheduler) Option { return func(e *Engine) { e.sched = s } }
func WithLocker(l lock.Locker) Option { return func(e *Engine) { e.locker = l } }
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notify = n } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func NewEngine(s store.Store, sender Sender, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MaxFailureCount <= 0 {
		cfg.MaxFailureCount = def.MaxFailureCount
	}
	if !cfg.FailureCounting.Valid() {
		cfg.FailureCounting = def.FailureCounting
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.DueSkew < 0 {
		cfg.DueSkew = 0
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = def.SweepBatch
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = def.SweepConcurrency
	}
	e := &Engine{
		cfg:      cfg,
		store:    s,
		registry: NewRegistry(s),
		sender:   sender,
		log:      zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	if e.sched == nil {
		e.sched = NewTimerScheduler()
	}
	if e.locker == nil {
		e.locker = lock.NewMemory()
	}
	return e
}

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) CreateWebhook(ctx context.Context, merchantID, url string, events []string) (model.CreatedWebhook, error) {
	return e.registry.Create(ctx, merchantID, url, events)
}

func (e *Engine) VerifySignature(payload any, signature, secret string) (bool, error) {
	return Verify(payload, signature, secret)
}

// TriggerEvent fans payload out to every active webhook of merchantID subscribed
// to eventType and returns the ids of the deliveries it queued. Delivery
// outcomes are never reported here; a failure to queue one webhook's delivery
// is logged and does not affect the others.
func (e *Engine) TriggerEvent(ctx context.Context, merchantID, eventType string, payload any) ([]string, error) {
	merchantID, eventType = strings.TrimSpace(merchantID), strings.TrimSpace(eventType)
	if merchantID == "" {
		return nil, validationError("merchantId is required")
	}
	if eventType == "" {
		return nil, validationError("eventType is required")
	}
	body, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	hooks, err := e.registry.FindSubscribed(ctx, merchantID, eventType)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hooks))
	for _, w := range hooks {
		now := e.now()
		d, err := e.store.CreateDelivery(ctx, model.WebhookDelivery{
			WebhookID:   w.ID,
			MerchantID:  merchantID,
			EventType:   eventType,
			Payload:     body,
			Status:      model.DeliveryPending,
			NextRetryAt: &now,
		})
		if err != nil {
			e.log.Error("create delivery failed",
				zap.String("webhook_id", w.ID), zap.String("event_type", eventType), zap.Error(err))
			continue
		}
		ids = append(ids, d.ID)
		e.schedule(d.ID, now)
	}
	e.log.Debug("event triggered",
		zap.String("merchant_id", merchantID), zap.String("event_type", eventType), zap.Int("deliveries", len(ids)))
	return ids, nil
}

// RunAttempt makes at most one HTTP attempt for deliveryID. It is a no-op when
// the delivery is terminal, not yet due, held by another runner, or belongs to a
// webhook that is no longer active.
func (e *Engine) RunAttempt(ctx context.Context, deliveryID string) error {
	_, err := e.runAttempt(ctx, deliveryID)
	return err
}

func (e *Engine) runAttempt(ctx context.Context, deliveryID string) (bool, error) {
	unlock, ok, err := e.locker.TryLock(ctx, "webhook-delivery:"+deliveryID, e.cfg.LockTTL)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "acquire delivery lock").
			WithCode(http.StatusInternalServerError).
			WithTextCode(TextCodeStorage)
	}
	if !ok {
		e.log.Debug("delivery locked elsewhere", zap.String("delivery_id", deliveryID))
		return false, nil
	}
	defer unlock()

	d, err := e.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return false, storeError(err, "delivery "+deliveryID, TextCodeDeliveryNotFound)
	}
	if d.Status.Terminal() {
		return false, nil
	}
	now := e.now()
	if d.NextRetryAt != nil && d.NextRetryAt.After(now.Add(e.cfg.DueSkew)) {
		return false, nil
	}
	w, err := e.store.GetWebhook(ctx, d.WebhookID)
	if errors.Is(err, store.ErrNotFound) {
		e.log.Info("delivery abandoned: webhook deleted",
			zap.String("delivery_id", d.ID), zap.String("webhook_id", d.WebhookID))
		return false, nil
	}
	if err != nil {
		return false, storeError(err, "webhook "+d.WebhookID, TextCodeWebhookNotFound)
	}
	if w.Status != model.WebhookActive {
		e.log.Debug("delivery skipped: webhook inactive",
			zap.String("delivery_id", d.ID), zap.String("webhook_id", w.ID), zap.String("status", string(w.Status)))
		return false, nil
	}

	out := e.sender.Send(ctx, Request{
		DeliveryID: d.ID,
		EventType:  d.EventType,
		URL:        w.URL,
		Secret:     w.Secret,
		Body:       d.Payload,
	})
	res := model.DeliveryResult{
		AttemptCount:        d.AttemptCount + 1,
		ResponseStatusCode:  out.StatusCode,
		ResponseBodyExcerpt: out.Excerpt,
	}
	log := e.log.With(
		zap.String("delivery_id", d.ID),
		zap.String("webhook_id", w.ID),
		zap.String("event_type", d.EventType),
		zap.Int("attempt", res.AttemptCount),
		zap.Duration("latency", out.Latency),
	)
	if out.StatusCode != nil {
		log = log.With(zap.Int("status_code", *out.StatusCode))
	}

	if out.Success {
		if err := e.store.MarkDeliverySuccess(ctx, d.ID, d.AttemptCount, res); err != nil {
			return true, e.transitionError(log, err)
		}
		if err := e.registry.ResetFailureCount(ctx, w.ID); err != nil {
			log.Warn("reset failure count failed", zap.Error(err))
		}
		metrics.WebhookDeliveries.WithLabelValues(d.EventType, "success").Inc()
		log.Info("delivery succeeded")
		e.publish(d, model.DeliverySuccess, res)
		return true, nil
	}

	terminal := res.AttemptCount >= e.cfg.MaxAttempts
	if terminal {
		err = e.store.MarkDeliveryFailed(ctx, d.ID, d.AttemptCount, res)
	} else {
		// the retry is measured from when the failure was observed, not from
		// before a possibly slow send
		next := e.cfg.Retry.NextRetryAt(res.AttemptCount, e.now())
		res.NextRetryAt = &next
		err = e.store.MarkDeliveryRetry(ctx, d.ID, d.AttemptCount, res)
	}
	if err != nil {
		return true, e.transitionError(log, err)
	}

	if terminal || e.cfg.FailureCounting == CountPerAttempt {
		e.countFailure(ctx, log, w.ID)
	}
	if terminal {
		metrics.WebhookDeliveries.WithLabelValues(d.EventType, "failed").Inc()
		log.Warn("delivery failed permanently", zap.String("excerpt", out.Excerpt))
		e.publish(d, model.DeliveryFailed, res)
		return true, nil
	}
	metrics.WebhookDeliveries.WithLabelValues(d.EventType, "retry").Inc()
	log.Info("delivery attempt failed; retry scheduled", zap.Time("next_retry_at", *res.NextRetryAt))
	e.publish(d, model.DeliveryPending, res)
	e.schedule(d.ID, *res.NextRetryAt)
	return true, nil
}

// transitionError treats a lost compare-and-set as a no-op: another runner already recorded this attempt.
func (e *Engine) transitionError(log *zap.Logger, err error) error {
	if errors.Is(err, store.ErrConflict) {
		log.Warn("delivery outcome not recorded: concurrent update")
		return nil
	}
	return storeError(err, "record delivery outcome", TextCodeDeliveryNotFound)
}

func (e *Engine) countFailure(ctx context.Context, log *zap.Logger, webhookID string) {
	n, err := e.registry.IncrementFailureCount(ctx, webhookID)
	if err != nil {
		log.Warn("increment failure count failed", zap.Error(err))
		return
	}
	if n < e.cfg.MaxFailureCount {
		return
	}
	if _, err := e.registry.Disable(ctx, webhookID); err != nil {
		log.Error("disable webhook failed", zap.Int("failure_count", n), zap.Error(err))
		return
	}
	if n == e.cfg.MaxFailureCount {
		metrics.WebhooksDisabled.Inc()
	}
	log.Warn("webhook disabled after consecutive failures", zap.Int("failure_count", n))
}

func (e *Engine) publish(d model.WebhookDelivery, status model.DeliveryStatus, res model.DeliveryResult) {
	if e.notify == nil {
		return
	}
	e.notify.Publish(d.WebhookID, model.DeliveryEvent{
		DeliveryID:         d.ID,
		WebhookID:          d.WebhookID,
		EventType:          d.EventType,
		Status:             status,
		AttemptCount:       res.AttemptCount,
		ResponseStatusCode: res.ResponseStatusCode,
		NextRetryAt:        res.NextRetryAt,
		TS:                 e.now().Format(time.RFC3339),
	})
}

// schedule arranges a RunAttempt at or after at. The callback gets its own
// context bounded by the lock TTL.
func (e *Engine) schedule(deliveryID string, at time.Time) {
	e.sched.Schedule(at, func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.LockTTL)
		defer cancel()
		if err := e.RunAttempt(ctx, deliveryID); err != nil {
			e.log.Error("scheduled attempt failed", zap.String("delivery_id", deliveryID), zap.Error(err))
		}
	})
}

// ProcessPendingDeliveries attempts up to limit due pending deliveries
// concurrently and returns how many attempts were made. It is the durability
// backstop for callbacks lost with a previous process.
func (e *Engine) ProcessPendingDeliveries(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = e.cfg.SweepBatch
	}
	due, err := e.store.FindPendingDeliveries(ctx, e.now().Add(e.cfg.DueSkew), limit)
	if err != nil {
		return 0, storeError(err, "find pending deliveries", TextCodeDeliveryNotFound)
	}
	var attempted atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.cfg.SweepConcurrency)
	for _, d := range due {
		id := d.ID
		g.Go(func() error {
			ok, err := e.runAttempt(ctx, id)
			if err != nil {
				e.log.Error("sweep attempt failed", zap.String("delivery_id", id), zap.Error(err))
			}
			if ok {
				attempted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	n := int(attempted.Load())
	metrics.SweepProcessed.Add(float64(n))
	if len(due) > 0 {
		e.log.Info("pending sweep done", zap.Int("due", len(due)), zap.Int("attempted", n))
	}
	return n, nil
}

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// GetDeliveryHistory lists a webhook's deliveries newest first.
func (e *Engine) GetDeliveryHistory(ctx context.Context, webhookID string, limit, offset int) ([]model.WebhookDelivery, error) {
	if _, err := e.registry.Get(ctx, webhookID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	ds, err := e.store.ListDeliveries(ctx, webhookID, limit, offset)
	if err != nil {
		return nil, storeError(err, "list deliveries", TextCodeDeliveryNotFound)
	}
	return ds, nil
}

func (e *Engine) GetDeliveryStats(ctx context.Context, webhookID string) (model.DeliveryStats, error) {
	if _, err := e.registry.Get(ctx, webhookID); err != nil {
		return model.DeliveryStats{}, err
	}
	st, err := e.store.DeliveryStats(ctx, webhookID)
	if err != nil {
		return model.DeliveryStats{}, storeError(err, "delivery stats", TextCodeDeliveryNotFound)
	}
	return st, nil
}

// GetDelivery loads one delivery.
func (e *Engine) GetDelivery(ctx context.Context, deliveryID string) (model.WebhookDelivery, error) {
	d, err := e.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return model.WebhookDelivery{}, storeError(err, "delivery "+deliveryID, TextCodeDeliveryNotFound)
	}
	return d, nil
}

// Redeliver queues a fresh pending delivery carrying the same event type and
// payload as a terminal one. The original record is left untouched.
func (e *Engine) Redeliver(ctx context.Context, deliveryID string) (model.WebhookDelivery, error) {
	src, err := e.GetDelivery(ctx, deliveryID)
	if err != nil {
		return model.WebhookDelivery{}, err
	}
	if !src.Status.Terminal() {
		return model.WebhookDelivery{}, conflictError("delivery "+deliveryID+" is still pending", TextCodeNotRedeliverable)
	}
	w, err := e.registry.Get(ctx, src.WebhookID)
	if err != nil {
		return model.WebhookDelivery{}, err
	}
	if w.Status != model.WebhookActive {
		return model.WebhookDelivery{}, conflictError("webhook "+w.ID+" is not active", TextCodeNotRedeliverable)
	}
	now := e.now()
	d, err := e.store.CreateDelivery(ctx, model.WebhookDelivery{
		WebhookID:   src.WebhookID,
		MerchantID:  src.MerchantID,
		EventType:   src.EventType,
		Payload:     src.Payload,
		Status:      model.DeliveryPending,
		NextRetryAt: &now,
	})
	if err != nil {
		return model.WebhookDelivery{}, storeError(err, "create delivery", TextCodeDeliveryNotFound)
	}
	e.log.Info("delivery requeued", zap.String("delivery_id", d.ID), zap.String("source_delivery_id", src.ID))
	e.schedule(d.ID, now)
	return d, nil
}
