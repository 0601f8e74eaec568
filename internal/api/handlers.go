package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"shopassist/internal/model"
	"shopassist/internal/webhooks"
)

// CreateWebhookHandler handles POST /v1/webhooks. The secret is returned only here.
func (s *Server) CreateWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if !s.decode(w, r, &req) {
		return
	}
	p := principal(r.Context())
	created, err := s.engine.CreateWebhook(r.Context(), p.MerchantID, req.URL, req.Events)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListWebhooksHandler handles GET /v1/webhooks.
func (s *Server) ListWebhooksHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.Registry().List(r.Context(), principal(r.Context()).MerchantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ownedWebhook loads the path's webhook for the calling merchant; a foreign id
// is reported as not found.
func (s *Server) ownedWebhook(w http.ResponseWriter, r *http.Request) (model.Webhook, bool) {
	hook, err := s.engine.Registry().GetOwned(r.Context(), principal(r.Context()).MerchantID, chi.URLParam(r, "webhookId"))
	if err != nil {
		s.writeError(w, r, err)
		return model.Webhook{}, false
	}
	return hook, true
}

func (s *Server) GetWebhookHandler(w http.ResponseWriter, r *http.Request) {
	hook, ok := s.ownedWebhook(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

// UpdateWebhookHandler handles PATCH /v1/webhooks/{webhookId}.
func (s *Server) UpdateWebhookHandler(w http.ResponseWriter, r *http.Request) {
	hook, ok := s.ownedWebhook(w, r)
	if !ok {
		return
	}
	var req updateWebhookRequest
	if !s.decode(w, r, &req) {
		return
	}
	updated, err := s.engine.Registry().Update(r.Context(), hook.ID, model.WebhookPatch{URL: req.URL, Events: req.Events})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) DeleteWebhookHandler(w http.ResponseWriter, r *http.Request) {
	hook, ok := s.ownedWebhook(w, r)
	if !ok {
		return
	}
	if err := s.engine.Registry().Delete(r.Context(), hook.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnableWebhookHandler reactivates a webhook and clears its failure count.
func (s *Server) EnableWebhookHandler(w http.ResponseWriter, r *http.Request) {
	hook, ok := s.ownedWebhook(w, r)
	if !ok {
		return
	}
	updated, err := s.engine.Registry().Enable(r.Context(), hook.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) DisableWebhookHandler(w http.ResponseWriter, r *http.Request) {
	hook, ok := s.ownedWebhook(w, r)
	if !ok {
		return
	}
	updated, err := s.engine.Registry().Disable(r.Context(), hook.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeliveryHistoryHandler handles GET /v1/webhooks/{webhookId}/deliveries?limit=&offset=.
func (s *Server) DeliveryHistoryHandler(w http.ResponseWriter, r *http.Request) {
	hook, ok := s.ownedWebhook(w, r)
	if !ok {
		return
	}
	limit, offset, err := parsePaging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := s.engine.GetDeliveryHistory(r.Context(), hook.ID, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

func (s *Server) DeliveryStatsHandler(w http.ResponseWriter, r *http.Request) {
	hook, ok := s.ownedWebhook(w, r)
	if !ok {
		return
	}
	st, err := s.engine.GetDeliveryStats(r.Context(), hook.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetDeliveryHandler handles GET /v1/deliveries/{deliveryId} for the owning merchant.
func (s *Server) GetDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.GetDelivery(r.Context(), chi.URLParam(r, "deliveryId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if d.MerchantID != principal(r.Context()).MerchantID {
		writeCodedProblem(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), "delivery not found", r.URL.Path, webhooks.TextCodeDeliveryNotFound)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// TriggerEventHandler handles POST /v1/events. Delivery runs asynchronously;
// the response only reports what was queued.
func (s *Server) TriggerEventHandler(w http.ResponseWriter, r *http.Request) {
	var req triggerEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	ids, err := s.engine.TriggerEvent(r.Context(), principal(r.Context()).MerchantID, req.EventType, req.Payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": len(ids), "deliveryIds": ids})
}

// VerifySignatureHandler handles POST /v1/webhooks/verify so receivers can
// check their own verification against ours.
func (s *Server) VerifySignatureHandler(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	valid, err := s.engine.VerifySignature(req.Payload, req.Signature, req.Secret)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// SweepHandler handles POST /v1/admin/webhook-deliveries/sweep?limit=.
func (s *Server) SweepHandler(w http.ResponseWriter, r *http.Request) {
	limit, _, err := parsePaging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.engine.ProcessPendingDeliveries(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": n})
}

// AdminRedeliverHandler handles POST /v1/admin/webhook-deliveries/{deliveryId}/redeliver.
func (s *Server) AdminRedeliverHandler(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Redeliver(r.Context(), chi.URLParam(r, "deliveryId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, d)
}

// DeliveryStreamHandler streams a webhook's delivery outcomes as server-sent events.
func (s *Server) DeliveryStreamHandler(w http.ResponseWriter, r *http.Request) {
	hook, ok := s.ownedWebhook(w, r)
	if !ok {
		return
	}
	if s.feed == nil {
		writeProblem(w, http.StatusNotImplemented, "Live feed disabled", "", r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.feed.Subscribe(hook.ID)
	defer s.feed.Unsubscribe(hook.ID, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"webhookId\":\"%s\",\"ts\":\"%s\"}\n\n", hook.ID, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()

	ticker := time.NewTicker(s.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			b, err := json.Marshal(evt)
			if err != nil {
				s.log.Warn("encode delivery event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: delivery\n")
			fmt.Fprintf(w, "id: %s-%d\n", evt.DeliveryID, evt.AttemptCount)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}
