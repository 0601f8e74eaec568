package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shopassist/internal/model"
)

const publishTimeout = 2 * time.Second

// RedisBroker implements Feed over Redis Pub/Sub so every replica's
// subscribers see outcomes recorded by any other replica.
type RedisBroker struct {
	rdb *redis.Client
	log *zap.Logger

	mu   sync.Mutex
	subs map[chan model.DeliveryEvent]*redis.PubSub
}

func NewRedisBroker(rdb *redis.Client, log *zap.Logger) *RedisBroker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBroker{rdb: rdb, log: log, subs: map[chan model.DeliveryEvent]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(webhookID string) chan model.DeliveryEvent {
	ch := make(chan model.DeliveryEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, ChannelName(webhookID))
	// wait for the subscription confirmation so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Warn("feed subscribe failed", zap.String("webhook_id", webhookID), zap.Error(err))
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt model.DeliveryEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.log.Debug("feed dropped malformed event", zap.Error(err))
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the Redis subscription; ch is closed once its reader
// goroutine drains.
func (b *RedisBroker) Unsubscribe(_ string, ch chan model.DeliveryEvent) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(webhookID string, evt model.DeliveryEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, ChannelName(webhookID), data).Err(); err != nil {
		b.log.Warn("feed publish failed", zap.String("webhook_id", webhookID), zap.Error(err))
	}
}

// ChannelName is the pub/sub channel carrying one webhook's delivery events.
func ChannelName(webhookID string) string { return "webhook-deliveries:" + webhookID }
