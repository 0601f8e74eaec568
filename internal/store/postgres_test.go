package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"shopassist/internal/model"
)

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.vals[i].(string)
		case *int:
			*p = r.vals[i].(int)
		case *[]byte:
			*p = r.vals[i].([]byte)
		case *time.Time:
			*p = r.vals[i].(time.Time)
		case *sql.NullInt64:
			if v, ok := r.vals[i].(int64); ok {
				*p = sql.NullInt64{Int64: v, Valid: true}
			}
		case *sql.NullString:
			if v, ok := r.vals[i].(string); ok {
				*p = sql.NullString{String: v, Valid: true}
			}
		case *sql.NullTime:
			if v, ok := r.vals[i].(time.Time); ok {
				*p = sql.NullTime{Time: v, Valid: true}
			}
		}
	}
	return nil
}

func TestScanWebhookDecodesEvents(t *testing.T) {
	now := time.Now()
	row := fakeRow{vals: []any{"id1", "m1", "https://x", []byte(`["order.created","order.paid"]`), "s", "active", 2, now, now}}
	w, err := scanWebhook(row)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(w.Events) != 2 || w.Events[1] != "order.paid" {
		t.Fatalf("events not decoded: %v", w.Events)
	}
	if w.Status != model.WebhookActive || w.FailureCount != 2 {
		t.Fatalf("unexpected webhook: %+v", w)
	}
}

func TestScanNoRowsIsNotFound(t *testing.T) {
	if _, err := scanWebhook(fakeRow{err: sql.ErrNoRows}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := scanDelivery(fakeRow{err: sql.ErrNoRows}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestScanDeliveryNullables(t *testing.T) {
	now := time.Now()
	row := fakeRow{vals: []any{"d1", "w1", "m1", "order.created", []byte(`{"a":1}`), "pending", 1,
		int64(503), "busy", now, now, now, nil}}
	d, err := scanDelivery(row)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if d.ResponseStatusCode == nil || *d.ResponseStatusCode != 503 {
		t.Fatalf("status code: %v", d.ResponseStatusCode)
	}
	if d.NextRetryAt == nil || d.CompletedAt != nil {
		t.Fatalf("nullable times wrong: next=%v completed=%v", d.NextRetryAt, d.CompletedAt)
	}
	if string(d.Payload) != `{"a":1}` || d.ResponseBodyExcerpt != "busy" {
		t.Fatalf("unexpected delivery: %+v", d)
	}
}

func TestPrefixed(t *testing.T) {
	got := prefixed("d.", "id::text,\n\tstatus, attempt_count")
	if got != "d.id::text, d.status, d.attempt_count" {
		t.Fatalf("got %q", got)
	}
}

func TestValidID(t *testing.T) {
	if validID("not-a-uuid") {
		t.Fatalf("malformed id accepted")
	}
	if !validID("3f1c1f0e-8a8b-4a43-9d55-2b1c3c7d9e10") {
		t.Fatalf("uuid rejected")
	}
}

func TestNullHelpers(t *testing.T) {
	if nullIfEmpty("") != nil || nullIfEmpty("x") != "x" {
		t.Fatalf("nullIfEmpty")
	}
	if nullInt(nil) != nil {
		t.Fatalf("nullInt(nil)")
	}
	c := 200
	if nullInt(&c) != 200 {
		t.Fatalf("nullInt")
	}
	if nullTime(nil) != nil {
		t.Fatalf("nullTime(nil)")
	}
	if v := nonNilStrings(nil); v == nil || len(v) != 0 {
		t.Fatalf("nonNilStrings")
	}
}
