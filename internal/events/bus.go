// Package events is the in-process broadcast channel that keeps independent
// views in sync. It wraps watermill's gochannel pub/sub; publishing blocks
// until every subscriber has taken the message, so each subscriber observes a
// topic in publish order.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// Topics published by the library and the highlight signal.
const (
	TopicHighlight = "highlight.changed"
	TopicDocuments = "library.documents"
	TopicCurrent   = "library.current"
)

const subscriberBuffer = 32

// Envelope is one delivered event.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Bus fans JSON events out to subscribers.
type Bus struct {
	pubsub *gochannel.GoChannel
	log    *zap.Logger
}

// NewBus creates a bus. A nil logger disables logging.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("events")
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            subscriberBuffer,
		BlockPublishUntilSubscriberAck: true,
	}, newZapAdapter(log))
	return &Bus{pubsub: pubsub, log: log}
}

// Publish encodes payload as JSON and delivers it to every current subscriber
// of topic. Topics without subscribers drop the event.
func (b *Bus) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe merges the given topics into one channel. The channel closes once
// ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topics ...string) (<-chan Envelope, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("subscribe: no topics")
	}
	out := make(chan Envelope, subscriberBuffer)
	var wg sync.WaitGroup
	for _, topic := range topics {
		msgs, err := b.pubsub.Subscribe(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		wg.Add(1)
		go b.forward(ctx, topic, msgs, out, &wg)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// forward acks a message only after it reached out, which is what holds the
// publisher back and keeps delivery ordered.
func (b *Bus) forward(ctx context.Context, topic string, msgs <-chan *message.Message, out chan<- Envelope, wg *sync.WaitGroup) {
	defer wg.Done()
	for msg := range msgs {
		env := Envelope{Topic: topic, Payload: json.RawMessage(msg.Payload)}
		select {
		case out <- env:
		case <-ctx.Done():
			b.log.Debug("subscriber gone, dropping event", zap.String("topic", topic))
		}
		msg.Ack()
	}
}

// Close shuts the bus down and closes every subscription.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
