// Package events is the change feed behind live subscriptions. Stores publish
// one Event per committed mutation; session components subscribe to the topics
// they render from. A Relay, when attached, fans events out to other processes.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Topics published by the store and by session components.
const (
	TopicProjects           = "projects"
	TopicUsers              = "users"
	TopicRoleTemplates      = "role_templates"
	TopicPurchaseOrders     = "pos"
	TopicTransportRequests  = "transport_requests"
	TopicClients            = "clients"
	TopicPermissionsChanged = "permissionsChanged"
	TopicAssignmentsChanged = "assignmentsChanged"
)

// Event is a single change notification. Key identifies the document (project
// id, user id, role name) and Data carries its JSON snapshot when the
// publisher has one.
type Event struct {
	Topic  string          `json:"topic"`
	Key    string          `json:"key"`
	Data   json.RawMessage `json:"data,omitempty"`
	Origin string          `json:"origin"`
}

// Decode unmarshals Data into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Handler receives events. Handlers run on the publisher's goroutine and must
// not block; anything slow belongs on the worker queue.
type Handler func(Event)

// Relay forwards locally published events to other processes.
type Relay interface {
	Forward(ctx context.Context, e Event) error
}

// Bus is an in-process topic broadcaster.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler
	next   uint64
	origin string
	relay  Relay
	log    *slog.Logger
}

// NewBus creates an empty bus with a fresh origin id.
func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]map[uint64]Handler),
		origin: uuid.NewString(),
		log:    log,
	}
}

// Origin identifies this process in relayed events.
func (b *Bus) Origin() string { return b.origin }

// SetRelay attaches r. Events published afterwards are forwarded to it.
func (b *Bus) SetRelay(r Relay) {
	b.mu.Lock()
	b.relay = r
	b.mu.Unlock()
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	once  sync.Once
	bus   *Bus
	topic string
	id    uint64
}

// Unsubscribe removes the handler. It is safe to call more than once and on
// a nil subscription.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if hs, ok := s.bus.subs[s.topic]; ok {
			delete(hs, s.id)
			if len(hs) == 0 {
				delete(s.bus.subs, s.topic)
			}
		}
	})
}

// Subscribe registers h for topic.
func (b *Bus) Subscribe(topic string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][b.next] = h
	return &Subscription{bus: b, topic: topic, id: b.next}
}

// Publish delivers e to local subscribers and forwards it to the relay.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.Origin == "" {
		e.Origin = b.origin
	}
	b.Deliver(e)

	b.mu.RLock()
	relay := b.relay
	b.mu.RUnlock()
	if relay != nil {
		if err := relay.Forward(ctx, e); err != nil {
			b.log.Warn("event relay forward failed", "topic", e.Topic, "key", e.Key, "err", err)
		}
	}
}

// PublishJSON marshals data and publishes it under topic/key.
func (b *Bus) PublishJSON(ctx context.Context, topic, key string, data any) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			b.log.Warn("event payload marshal failed", "topic", topic, "key", key, "err", err)
		}
	}
	b.Publish(ctx, Event{Topic: topic, Key: key, Data: raw})
}

// Deliver hands e to local subscribers only. Relays call it for events that
// arrive from other processes.
func (b *Bus) Deliver(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Topic]))
	for _, h := range b.subs[e.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Subscribers returns the number of handlers registered for topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
