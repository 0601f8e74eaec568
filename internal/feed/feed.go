// Package feed fans delivery outcomes out to live subscribers of a webhook.
package feed

import (
	"sync"

	"shopassist/internal/model"
)

// Feed is satisfied by the in-process Broker and by RedisBroker.
type Feed interface {
	Subscribe(webhookID string) chan model.DeliveryEvent
	Unsubscribe(webhookID string, ch chan model.DeliveryEvent)
	Publish(webhookID string, evt model.DeliveryEvent)
}

const subscriberBuffer = 8

// Broker keeps subscribers in memory. Slow subscribers miss events rather
// than blocking the publisher.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.DeliveryEvent]struct{} // webhookId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.DeliveryEvent]struct{}{}}
}

func (b *Broker) Subscribe(webhookID string) chan model.DeliveryEvent {
	ch := make(chan model.DeliveryEvent, subscriberBuffer)
	b.mu.Lock()
	if b.subs[webhookID] == nil {
		b.subs[webhookID] = map[chan model.DeliveryEvent]struct{}{}
	}
	b.subs[webhookID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(webhookID string, ch chan model.DeliveryEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[webhookID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, webhookID)
	}
	close(ch)
}

func (b *Broker) Publish(webhookID string, evt model.DeliveryEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[webhookID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers reports the live subscriber count for a webhook.
func (b *Broker) Subscribers(webhookID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[webhookID])
}
