package webhooks

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"shopassist/internal/buildinfo"
	"shopassist/internal/metrics"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultExcerptLimit   = 1000

	HeaderSignature  = "X-Webhook-Signature"
	HeaderEvent      = "X-Webhook-Event"
	HeaderDeliveryID = "X-Webhook-Delivery-ID"
)

// Request is everything needed for one outbound attempt. Body is the stored
// canonical payload; it is signed and sent byte for byte.
type Request struct {
	DeliveryID string
	EventType  string
	URL        string
	Secret     string
	Body       []byte
}

// Outcome of a single attempt. StatusCode is nil when no response arrived;
// Excerpt then holds the transport error message.
type Outcome struct {
	Success    bool
	StatusCode *int
	Excerpt    string
	Latency    time.Duration
}

// Sender performs exactly one delivery attempt.
type Sender interface {
	Send(ctx context.Context, req Request) Outcome
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Executor is the HTTP Sender.
type Executor struct {
	HTTP         Doer
	Timeout      time.Duration
	ExcerptLimit int
	UserAgent    string
}

// NewExecutor builds an Executor. A nil client gets one that does not follow
// redirects, so a 3xx is recorded as a failed attempt.
func NewExecutor(client Doer, timeout time.Duration) *Executor {
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Executor{HTTP: client, Timeout: timeout, ExcerptLimit: DefaultExcerptLimit, UserAgent: buildinfo.UserAgent()}
}

func (x *Executor) Send(ctx context.Context, r Request) Outcome {
	ctx, cancel := context.WithTimeout(ctx, x.Timeout)
	defer cancel()
	limit := x.ExcerptLimit
	if limit <= 0 {
		limit = DefaultExcerptLimit
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return Outcome{Excerpt: Excerpt(err.Error(), limit)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", x.UserAgent)
	req.Header.Set(HeaderSignature, SignBytes(r.Body, r.Secret))
	req.Header.Set(HeaderEvent, r.EventType)
	req.Header.Set(HeaderDeliveryID, r.DeliveryID)

	start := time.Now()
	resp, err := x.HTTP.Do(req)
	if err != nil {
		latency := time.Since(start)
		metrics.ObserveAttempt(r.EventType, 0, latency)
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out: " + msg
		}
		return Outcome{Excerpt: Excerpt(msg, limit), Latency: latency}
	}
	defer resp.Body.Close()
	// utf8.UTFMax bytes per character is the most the excerpt can need
	body, _ := io.ReadAll(io.LimitReader(resp.Body, int64(limit*utf8.UTFMax)))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	latency := time.Since(start)
	metrics.ObserveAttempt(r.EventType, resp.StatusCode, latency)

	code := resp.StatusCode
	return Outcome{
		Success:    code >= 200 && code < 300,
		StatusCode: &code,
		Excerpt:    Excerpt(string(body), limit),
		Latency:    latency,
	}
}

// Excerpt truncates s to at most n characters, replacing invalid UTF-8.
func Excerpt(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
