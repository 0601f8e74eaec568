package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goerrors "github.com/goliatone/go-errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"shopassist/internal/metrics"
)

// accessLog records one structured line and the HTTP metrics per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		dur := time.Since(start)
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		code := strconv.Itoa(status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())
		s.log.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("latency", dur),
		)
	})
}

// keyedLimiter keeps one token bucket per key. Buckets idle for longer than
// idleTTL are dropped.
type keyedLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
	lastGC  time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

const (
	idleTTL = 10 * time.Minute
	// addrFactor scales the per-address bucket: one address may front several
	// merchants, but rotating X-Merchant-Id must not escape the limit.
	addrFactor = 4
)

func newKeyedLimiter(rps float64, burst int) *keyedLimiter {
	if rps <= 0 {
		return nil
	}
	return &keyedLimiter{rps: rate.Limit(rps), burst: burst, buckets: map[string]*bucket{}, lastGC: time.Now()}
}

func (l *keyedLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastGC) > idleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > idleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastGC = now
	}
	b := l.buckets[key]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// rateLimit applies the merchant's bucket and then the client address's
// bucket; a request must pass both.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		allowed := true
		if m := principalFromRequest(r).MerchantID; m != "" {
			allowed = s.limiter.allow(m, now)
		}
		if allowed && s.addrLimiter != nil {
			allowed = s.addrLimiter.allow(clientIP(r), now)
		}
		if !allowed {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, r, goerrors.New("rate limit exceeded", goerrors.CategoryRateLimit).
				WithCode(http.StatusTooManyRequests).WithTextCode("RATE_LIMITED"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
