package pulsekeeper

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultSubscriberBuffer = 8

// Bus is the in-process control channel: named topics, fire-and-forget
// delivery, no buffering beyond each subscriber's own channel and no replay.
// A payload published with no subscribers is dropped outright; a subscriber
// whose buffer is full misses that payload rather than blocking the publisher.
type Bus struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[*Subscription]struct{})}
}

// Subscription is a cancellable handle on one topic. Every subscriber gets an
// independent channel; cancelling detaches it and closes the channel.
type Subscription struct {
	bus        *Bus
	topic      string
	ch         chan Payload
	cancelOnce sync.Once
}

// C returns the delivery channel. It is closed after Cancel.
func (s *Subscription) C() <-chan Payload {
	return s.ch
}

// Topic returns the subscribed topic name.
func (s *Subscription) Topic() string {
	return s.topic
}

// Cancel detaches the subscription and closes its channel. Safe to call more
// than once and from any goroutine.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		s.bus.mu.Lock()
		if subs, ok := s.bus.topics[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.bus.topics, s.topic)
			}
		}
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// Subscribe registers a fresh listener on topic. Each call returns an
// independent subscription that receives every payload published afterwards.
// A non-positive buffer falls back to the default.
func (b *Bus) Subscribe(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &Subscription{bus: b, topic: topic, ch: make(chan Payload, buffer)}
	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers payload to every current subscriber of topic and returns
// immediately. The payload's declared topic must match the target topic.
func (b *Bus) Publish(topic string, payload Payload) error {
	if payload == nil {
		return errors.Errorf("channel: nil payload on topic %s", topic)
	}
	if payload.Topic() != topic {
		return errors.Errorf("channel: payload for topic %s published on topic %s",
			payload.Topic(), topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	if len(subs) == 0 {
		log.Debug().Str("topic", topic).Msg("channel: no subscriber, payload dropped")
		return nil
	}
	for sub := range subs {
		select {
		case sub.ch <- payload:
		default:
			log.Debug().Str("topic", topic).Msg("channel: subscriber full, payload dropped")
		}
	}
	return nil
}

// Invoke publishes a command payload. It is Publish under the name the
// presentation side uses for the command direction.
func (b *Bus) Invoke(topic string, payload Payload) error {
	return b.Publish(topic, payload)
}
