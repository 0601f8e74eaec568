package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestExecutorSuccessHeaders(t *testing.T) {
	var got http.Header
	var body string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	x := NewExecutor(srv.Client(), time.Second)
	out := x.Send(context.Background(), Request{
		DeliveryID: "d1", EventType: "order.created", URL: srv.URL, Secret: "k", Body: []byte(`{"a":1}`),
	})
	if !out.Success || out.StatusCode == nil || *out.StatusCode != 204 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if body != `{"a":1}` {
		t.Fatalf("body = %q", body)
	}
	if got.Get("Content-Type") != "application/json" || !strings.HasPrefix(got.Get("User-Agent"), "shopassist-webhooks/") {
		t.Fatalf("content headers: %v", got)
	}
	if got.Get(HeaderSignature) != SignBytes([]byte(`{"a":1}`), "k") {
		t.Fatalf("signature header = %q", got.Get(HeaderSignature))
	}
	if got.Get(HeaderEvent) != "order.created" || got.Get(HeaderDeliveryID) != "d1" {
		t.Fatalf("event headers: %v", got)
	}
}

func TestExecutorNon2xxIsFailure(t *testing.T) {
	for _, code := range []int{300, 404, 500, 503} {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte("nope"))
		}))
		out := NewExecutor(srv.Client(), time.Second).Send(context.Background(), Request{URL: srv.URL, Body: []byte(`{}`)})
		srv.Close()
		if out.Success || out.StatusCode == nil || *out.StatusCode != code || out.Excerpt != "nope" {
			t.Fatalf("code %d: %+v", code, out)
		}
	}
}

func TestExecutorTruncatesExcerpt(t *testing.T) {
	long := strings.Repeat("é", 1500)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_, _ = w.Write([]byte(long))
	}))
	defer srv.Close()
	out := NewExecutor(srv.Client(), time.Second).Send(context.Background(), Request{URL: srv.URL, Body: []byte(`{}`)})
	if n := utf8.RuneCountInString(out.Excerpt); n != DefaultExcerptLimit {
		t.Fatalf("excerpt has %d characters", n)
	}
	if !utf8.ValidString(out.Excerpt) {
		t.Fatal("excerpt is not valid UTF-8")
	}
}

func TestExecutorTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	out := NewExecutor(srv.Client(), 50*time.Millisecond).Send(context.Background(), Request{URL: srv.URL, Body: []byte(`{}`)})
	if out.Success || out.StatusCode != nil {
		t.Fatalf("timeout outcome: %+v", out)
	}
	if !strings.Contains(out.Excerpt, "timed out") {
		t.Fatalf("excerpt = %q", out.Excerpt)
	}
	if time.Since(start) > time.Second {
		t.Fatal("request not bounded by timeout")
	}
}

func TestExecutorConnectionError(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	url := srv.URL
	client := srv.Client()
	srv.Close()
	out := NewExecutor(client, time.Second).Send(context.Background(), Request{URL: url, Body: []byte(`{}`)})
	if out.Success || out.StatusCode != nil || out.Excerpt == "" {
		t.Fatalf("connection error outcome: %+v", out)
	}
}

func TestExecutorTLSFailure(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) }))
	defer srv.Close()
	// default client does not trust the test certificate
	out := NewExecutor(nil, time.Second).Send(context.Background(), Request{URL: srv.URL, Body: []byte(`{}`)})
	if out.Success || out.StatusCode != nil {
		t.Fatalf("untrusted certificate accepted: %+v", out)
	}
}

func TestExecutorDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved" {
			w.WriteHeader(200)
			return
		}
		http.Redirect(w, r, "/moved", http.StatusFound)
	}))
	defer srv.Close()
	out := NewExecutor(nil, time.Second).Send(context.Background(), Request{URL: srv.URL + "/hook", Body: []byte(`{}`)})
	if out.Success || out.StatusCode == nil || *out.StatusCode != http.StatusFound {
		t.Fatalf("redirect outcome: %+v", out)
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("hello", 10); got != "hello" {
		t.Fatalf("short: %q", got)
	}
	if got := Excerpt("héllo wörld", 4); got != "héll" {
		t.Fatalf("multibyte: %q", got)
	}
	if got := Excerpt("ok\xffbad", 100); !utf8.ValidString(got) {
		t.Fatalf("invalid utf-8 kept: %q", got)
	}
}
