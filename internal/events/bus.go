package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/KremlinV1/11Wire-sub002/internal/observe"
)

// Handler consumes one event. Handlers run synchronously within the
// publisher's execution context, so they should be fast and dispatch any
// slow work to their own goroutines.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id      string
	topic   string
	handler Handler
}

// Bus is the in-process event router. Events published for a single call
// are delivered to each subscriber in publish order because Publish is
// synchronous and callers publish a call's events from one goroutine.
type Bus struct {
	log     *slog.Logger
	metrics *observe.Metrics

	mu   sync.RWMutex
	subs map[string][]*subscription // topic -> ordered subscriptions
	byID map[string]*subscription
}

// NewBus creates an empty bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:     log,
		metrics: observe.DefaultMetrics(),
		subs:    make(map[string][]*subscription),
		byID:    make(map[string]*subscription),
	}
}

// Subscribe registers handler for the given event type, optionally scoped
// by filter, and returns an opaque handle for [Bus.Unsubscribe].
func (b *Bus) Subscribe(eventType string, handler Handler, filter Filter) string {
	sub := &subscription{
		id:      uuid.NewString(),
		topic:   Topic(eventType, filter),
		handler: handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub.topic] = append(b.subs[sub.topic], sub)
	b.byID[sub.id] = sub
	return sub.id
}

// Unsubscribe removes the subscription with the given handle. Unknown
// handles are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)

	list := b.subs[sub.topic]
	for i, s := range list {
		if s.id == id {
			b.subs[sub.topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
	}
}

// Publish delivers ev synchronously to all subscribers of the unfiltered
// topic, then to subscribers of the campaign-scoped topic when the event
// carries a campaign id. A panicking handler is logged and does not
// prevent the remaining handlers from running.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.deliver(ctx, ev.Type, ev)
	if ev.CampaignID != "" {
		b.deliver(ctx, Topic(ev.Type, Filter{CampaignID: ev.CampaignID}), ev)
	}
}

func (b *Bus) deliver(ctx context.Context, topic string, ev Event) {
	b.mu.RLock()
	handlers := make([]*subscription, len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}
	b.metrics.RecordEventPublished(ctx, topic)

	for _, sub := range handlers {
		b.invoke(ctx, sub, ev)
	}
}

func (b *Bus) invoke(ctx context.Context, sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				"topic", sub.topic, "event", ev.Type, "call_sid", ev.CallSID, "panic", r)
		}
	}()
	sub.handler(ctx, ev)
}
