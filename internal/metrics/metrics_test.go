package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutcomeClass(t *testing.T) {
	cases := map[int]string{0: "error", -1: "error", 200: "2xx", 204: "2xx", 301: "3xx", 404: "4xx", 503: "5xx"}
	for code, want := range cases {
		if got := OutcomeClass(code); got != want {
			t.Fatalf("OutcomeClass(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestObserveAttemptCountsByClass(t *testing.T) {
	before := testutil.ToFloat64(WebhookAttempts.WithLabelValues("5xx"))
	ObserveAttempt("order.created", 502, 20*time.Millisecond)
	ObserveAttempt("order.created", 500, 20*time.Millisecond)
	if got := testutil.ToFloat64(WebhookAttempts.WithLabelValues("5xx")) - before; got != 2 {
		t.Fatalf("want 2 new 5xx attempts, got %v", got)
	}
}

func TestRegisterDefaultIdempotent(t *testing.T) {
	RegisterDefault()
	RegisterDefault()
	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("no metric families registered")
	}
}
