package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"shopassist/internal/config"
	"shopassist/internal/feed"
	"shopassist/internal/metrics"
	"shopassist/internal/store"
	"shopassist/internal/webhooks"
)

// Pinger is implemented by stores that can check their backing connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	engine      *webhooks.Engine
	feed        feed.Feed
	store       store.Store
	cfg         *config.Config
	log         *zap.Logger
	limiter     *keyedLimiter // per merchant
	addrLimiter *keyedLimiter // per client address

	// Heartbeat is the idle interval between SSE heartbeat frames.
	Heartbeat time.Duration
}

// NewServer wires the HTTP layer over an engine and its store. A nil feed
// disables the live delivery stream; a nil cfg uses config.Default().
func NewServer(engine *webhooks.Engine, s store.Store, f feed.Feed, cfg *config.Config, log *zap.Logger) *Server {
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		engine:      engine,
		feed:        f,
		store:       s,
		cfg:         cfg,
		log:         log,
		limiter:     newKeyedLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		addrLimiter: newKeyedLimiter(cfg.RateLimit.RPS*addrFactor, cfg.RateLimit.Burst*addrFactor),
		Heartbeat:   15 * time.Second,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	metrics.RegisterDefault()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/debug/info", s.DebugJSON)
	r.Get("/openapi.yaml", s.OpenAPIHandler)
	r.Get("/openapi.json", s.OpenAPIJSONHandler)
	r.Get("/docs", s.DocsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Post("/webhooks/verify", s.VerifySignatureHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.requireMerchant)
			r.Post("/events", s.TriggerEventHandler)
			r.Get("/deliveries/{deliveryId}", s.GetDeliveryHandler)

			r.Route("/webhooks", func(r chi.Router) {
				r.Post("/", s.CreateWebhookHandler)
				r.Get("/", s.ListWebhooksHandler)
				r.Route("/{webhookId}", func(r chi.Router) {
					r.Get("/", s.GetWebhookHandler)
					r.Patch("/", s.UpdateWebhookHandler)
					r.Delete("/", s.DeleteWebhookHandler)
					r.Post("/enable", s.EnableWebhookHandler)
					r.Post("/disable", s.DisableWebhookHandler)
					r.Get("/deliveries", s.DeliveryHistoryHandler)
					r.Get("/deliveries/stream", s.DeliveryStreamHandler)
					r.Get("/stats", s.DeliveryStatsHandler)
				})
			})
		})

		r.Route("/admin/webhook-deliveries", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/sweep", s.SweepHandler)
			r.Post("/{deliveryId}/redeliver", s.AdminRedeliverHandler)
		})
	})
	return r
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler pings the store when it supports it.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.log.Warn("readiness check failed", zap.Error(err))
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "store unavailable", r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
