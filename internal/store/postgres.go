package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"shopassist/internal/model"
)

//go:embed schema/*.sql
var schemaFS embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded schema files in name order. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	names, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := schemaFS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

// Webhooks

const webhookCols = `id::text, merchant_id, url, events, secret, status, failure_count, created_at, updated_at`

func (p *Postgres) CreateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error) {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	events, err := json.Marshal(nonNilStrings(w.Events))
	if err != nil {
		return model.Webhook{}, err
	}
	row := p.db.QueryRowContext(ctx, `INSERT INTO webhooks (id, merchant_id, url, events, secret, status, failure_count)
		VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7) RETURNING `+webhookCols,
		w.ID, w.MerchantID, w.URL, string(events), w.Secret, string(w.Status), w.FailureCount)
	return scanWebhook(row)
}

func (p *Postgres) GetWebhook(ctx context.Context, id string) (model.Webhook, error) {
	if !validID(id) {
		return model.Webhook{}, ErrNotFound
	}
	return scanWebhook(p.db.QueryRowContext(ctx, `SELECT `+webhookCols+` FROM webhooks WHERE id=$1`, id))
}

func (p *Postgres) ListWebhooks(ctx context.Context, merchantID string) ([]model.Webhook, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+webhookCols+` FROM webhooks WHERE merchant_id=$1 ORDER BY created_at, id`, merchantID)
	if err != nil {
		return nil, err
	}
	return collectWebhooks(rows)
}

// FindSubscribed uses jsonb containment so the GIN index on events serves the lookup.
func (p *Postgres) FindSubscribed(ctx context.Context, merchantID, eventType string) ([]model.Webhook, error) {
	want, _ := json.Marshal([]string{eventType})
	rows, err := p.db.QueryContext(ctx, `SELECT `+webhookCols+` FROM webhooks
		WHERE merchant_id=$1 AND status='active' AND events @> $2::jsonb ORDER BY created_at, id`, merchantID, string(want))
	if err != nil {
		return nil, err
	}
	return collectWebhooks(rows)
}

func (p *Postgres) UpdateWebhook(ctx context.Context, id string, patch model.WebhookPatch) (model.Webhook, error) {
	if !validID(id) {
		return model.Webhook{}, ErrNotFound
	}
	var events any
	if len(patch.Events) > 0 {
		b, err := json.Marshal(patch.Events)
		if err != nil {
			return model.Webhook{}, err
		}
		events = string(b)
	}
	var url any
	if patch.URL != nil {
		url = *patch.URL
	}
	row := p.db.QueryRowContext(ctx, `UPDATE webhooks SET url=COALESCE($2, url), events=COALESCE($3::jsonb, events), updated_at=now()
		WHERE id=$1 RETURNING `+webhookCols, id, url, events)
	return scanWebhook(row)
}

func (p *Postgres) SetWebhookStatus(ctx context.Context, id string, status model.WebhookStatus) (model.Webhook, error) {
	if !validID(id) {
		return model.Webhook{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `UPDATE webhooks
		SET updated_at = CASE WHEN status <> $2 THEN now() ELSE updated_at END, status=$2
		WHERE id=$1 RETURNING `+webhookCols, id, string(status))
	return scanWebhook(row)
}

func (p *Postgres) DeleteWebhook(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) IncrementFailureCount(ctx context.Context, id string) (int, error) {
	if !validID(id) {
		return 0, ErrNotFound
	}
	var n int
	err := p.db.QueryRowContext(ctx, `UPDATE webhooks SET failure_count=failure_count+1, updated_at=now() WHERE id=$1 RETURNING failure_count`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return n, err
}

func (p *Postgres) ResetFailureCount(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `UPDATE webhooks
		SET updated_at = CASE WHEN failure_count <> 0 THEN now() ELSE updated_at END, failure_count=0
		WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Deliveries

const deliveryCols = `id::text, webhook_id::text, merchant_id, event_type, payload, status, attempt_count,
	response_status_code, response_body_excerpt, next_retry_at, created_at, updated_at, completed_at`

func (p *Postgres) CreateDelivery(ctx context.Context, d model.WebhookDelivery) (model.WebhookDelivery, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = model.DeliveryPending
	}
	row := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries
		(id, webhook_id, merchant_id, event_type, payload, status, attempt_count, next_retry_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+deliveryCols,
		d.ID, d.WebhookID, d.MerchantID, d.EventType, []byte(d.Payload), string(d.Status), d.AttemptCount, nullTime(d.NextRetryAt))
	return scanDelivery(row)
}

func (p *Postgres) GetDelivery(ctx context.Context, id string) (model.WebhookDelivery, error) {
	if !validID(id) {
		return model.WebhookDelivery{}, ErrNotFound
	}
	return scanDelivery(p.db.QueryRowContext(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries WHERE id=$1`, id))
}

func (p *Postgres) ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]model.WebhookDelivery, error) {
	if !validID(webhookID) {
		return []model.WebhookDelivery{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries
		WHERE webhook_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, webhookID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

func (p *Postgres) DeliveryStats(ctx context.Context, webhookID string) (model.DeliveryStats, error) {
	var st model.DeliveryStats
	if !validID(webhookID) {
		return st, nil
	}
	err := p.db.QueryRowContext(ctx, `SELECT count(*),
			count(*) FILTER (WHERE status='success'),
			count(*) FILTER (WHERE status='failed'),
			count(*) FILTER (WHERE status='pending'),
			COALESCE(avg(attempt_count), 0)::float8
		FROM webhook_deliveries WHERE webhook_id=$1`, webhookID).
		Scan(&st.TotalDeliveries, &st.SuccessfulDeliveries, &st.FailedDeliveries, &st.PendingDeliveries, &st.AvgAttemptCount)
	return st, err
}

func (p *Postgres) FindPendingDeliveries(ctx context.Context, now time.Time, limit int) ([]model.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+prefixed("d.", deliveryCols)+` FROM webhook_deliveries d
		JOIN webhooks w ON w.id = d.webhook_id
		WHERE d.status='pending' AND d.next_retry_at <= $1 AND w.status='active'
		ORDER BY d.next_retry_at, d.created_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

func (p *Postgres) MarkDeliverySuccess(ctx context.Context, id string, expectedAttempts int, res model.DeliveryResult) error {
	return p.transition(ctx, id, expectedAttempts, model.DeliverySuccess, res)
}

func (p *Postgres) MarkDeliveryRetry(ctx context.Context, id string, expectedAttempts int, res model.DeliveryResult) error {
	return p.transition(ctx, id, expectedAttempts, model.DeliveryPending, res)
}

func (p *Postgres) MarkDeliveryFailed(ctx context.Context, id string, expectedAttempts int, res model.DeliveryResult) error {
	return p.transition(ctx, id, expectedAttempts, model.DeliveryFailed, res)
}

// transition is a compare-and-set on (status='pending', attempt_count=expected).
func (p *Postgres) transition(ctx context.Context, id string, expectedAttempts int, status model.DeliveryStatus, res model.DeliveryResult) error {
	if !validID(id) {
		return ErrNotFound
	}
	next := nullTime(res.NextRetryAt)
	if status.Terminal() {
		next = nil
	}
	out, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries
		SET status=$2, attempt_count=$3, response_status_code=$4, response_body_excerpt=$5, next_retry_at=$6,
			updated_at=now(), completed_at = CASE WHEN $7::boolean THEN now() ELSE NULL END
		WHERE id=$1 AND status='pending' AND attempt_count=$8`,
		id, string(status), res.AttemptCount, nullInt(res.ResponseStatusCode), nullIfEmpty(res.ResponseBodyExcerpt), next,
		status.Terminal(), expectedAttempts)
	if err != nil {
		return err
	}
	if n, _ := out.RowsAffected(); n > 0 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM webhook_deliveries WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}
