// Package main runs a demo client: it registers a webhook, tails the live
// delivery stream and triggers one event.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	merchant := envOr("MERCHANT_ID", "m_demo")
	receiver := envOr("RECEIVER_URL", "https://webhook.site/demo")

	// Register a webhook for order.created
	var created struct {
		WebhookID string `json:"webhookId"`
		Secret    string `json:"secret"`
	}
	post(base+"/v1/webhooks", merchant, map[string]any{"url": receiver, "events": []string{"order.created"}}, &created)
	log.Printf("Webhook ID: %s (secret %s...)", created.WebhookID, created.Secret[:8])

	// Tail the SSE stream
	req, _ := http.NewRequest(http.MethodGet, base+"/v1/webhooks/"+created.WebhookID+"/deliveries/stream", nil)
	req.Header.Set("X-Merchant-Id", merchant)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("stream:", err)
	}
	defer func() { _ = resp.Body.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			if strings.HasPrefix(line, "data: ") {
				log.Printf("SSE <- %s", strings.TrimPrefix(line, "data: "))
			}
		}
	}()

	var trig struct {
		Queued      int      `json:"queued"`
		DeliveryIDs []string `json:"deliveryIds"`
	}
	post(base+"/v1/events", merchant, map[string]any{
		"eventType": "order.created",
		"payload":   map[string]any{"orderId": "o_demo", "total": 42.5, "currency": "USD"},
	}, &trig)
	log.Printf("Queued %d deliveries: %v", trig.Queued, trig.DeliveryIDs)

	select {
	case <-done:
	case <-time.After(20 * time.Second):
		log.Printf("done")
	}
}

func post(url, merchant string, body, out any) {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Merchant-Id", merchant)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		log.Fatalf("POST %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Fatal(err)
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
