package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"shopassist/internal/model"
)

// Row scanning and argument helpers shared by the Postgres store.

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhook(row rowScanner) (model.Webhook, error) {
	var w model.Webhook
	var events []byte
	var status string
	if err := row.Scan(&w.ID, &w.MerchantID, &w.URL, &events, &w.Secret, &status, &w.FailureCount, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Webhook{}, ErrNotFound
		}
		return model.Webhook{}, err
	}
	w.Status = model.WebhookStatus(status)
	if len(events) > 0 {
		if err := json.Unmarshal(events, &w.Events); err != nil {
			return model.Webhook{}, err
		}
	}
	return w, nil
}

func collectWebhooks(rows *sql.Rows) ([]model.Webhook, error) {
	defer rows.Close()
	out := []model.Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanDelivery(row rowScanner) (model.WebhookDelivery, error) {
	var d model.WebhookDelivery
	var payload []byte
	var status string
	var code sql.NullInt64
	var excerpt sql.NullString
	var next, completed sql.NullTime
	err := row.Scan(&d.ID, &d.WebhookID, &d.MerchantID, &d.EventType, &payload, &status, &d.AttemptCount,
		&code, &excerpt, &next, &d.CreatedAt, &d.UpdatedAt, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WebhookDelivery{}, ErrNotFound
		}
		return model.WebhookDelivery{}, err
	}
	d.Payload = payload
	d.Status = model.DeliveryStatus(status)
	if code.Valid {
		c := int(code.Int64)
		d.ResponseStatusCode = &c
	}
	d.ResponseBodyExcerpt = excerpt.String
	if next.Valid {
		t := next.Time
		d.NextRetryAt = &t
	}
	if completed.Valid {
		t := completed.Time
		d.CompletedAt = &t
	}
	return d, nil
}

func collectDeliveries(rows *sql.Rows) ([]model.WebhookDelivery, error) {
	defer rows.Close()
	out := []model.WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// prefixed qualifies every column of a select list with p ("d." -> "d.id::text, d.webhook_id::text, ...").
func prefixed(p, cols string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = p + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

// validID guards uuid columns: a malformed id can never match a row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
