package events

import (
	"sync"

	"go.uber.org/zap"
)

// subscriptionBuffer is the channel depth per subscription. Slow
// consumers drop events rather than block the publisher.
const subscriptionBuffer = 100

// Subscription is one subscriber's view of the bus
type Subscription struct {
	Ch     chan Event
	Types  []EventType // nil/empty = all types
	Target string
}

// Store persists events so offline agents can catch up
type Store interface {
	Save(event *Event) error
	GetPending(target string, types []EventType) ([]*Event, error)
	MarkDelivered(eventID string) error
}

// Bus is the in-process event bus agents subscribe to. An optional Store
// makes delivery durable.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*Subscription // target -> subscriptions
	store       Store
	logger      *zap.Logger
}

// NewBus creates an event bus. store and logger may be nil.
func NewBus(store Store, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[string][]*Subscription),
		store:       store,
		logger:      logger.Named("bus"),
	}
}

// Subscribe registers a target for the given event types and returns the
// receive channel. Empty types subscribes to everything.
func (b *Bus) Subscribe(target string, types []EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		Ch:     make(chan Event, subscriptionBuffer),
		Types:  types,
		Target: target,
	}
	b.subscribers[target] = append(b.subscribers[target], sub)

	return sub.Ch
}

// Unsubscribe removes a subscription and closes its channel
func (b *Bus) Unsubscribe(target string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[target]
	if !ok {
		return
	}

	for i, sub := range subs {
		if sub.Ch == ch {
			close(sub.Ch)
			b.subscribers[target] = append(subs[:i], subs[i+1:]...)
			if len(b.subscribers[target]) == 0 {
				delete(b.subscribers, target)
			}
			return
		}
	}
}

// Publish delivers an event to every matching subscriber. Delivery is
// non-blocking; a full subscriber channel drops the event.
func (b *Bus) Publish(event *Event) {
	if b.store != nil {
		if err := b.store.Save(event); err != nil {
			b.logger.Warn("failed to persist event",
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []*Subscription
	if event.Target == TargetAll {
		for _, subs := range b.subscribers {
			matched = append(matched, subs...)
		}
	} else {
		matched = append(matched, b.subscribers[event.Target]...)
		matched = append(matched, b.subscribers[TargetAll]...)
	}

	for _, sub := range matched {
		if !matchesTypes(event.Type, sub.Types) {
			continue
		}
		select {
		case sub.Ch <- *event:
		default:
			b.logger.Warn("subscriber channel full, dropping event",
				zap.String("target", sub.Target),
				zap.String("type", string(event.Type)))
		}
	}
}

// Pending returns undelivered events for a target from the store
func (b *Bus) Pending(target string, types []EventType) ([]*Event, error) {
	if b.store == nil {
		return nil, nil
	}
	return b.store.GetPending(target, types)
}

// Ack marks a stored event as delivered
func (b *Bus) Ack(eventID string) error {
	if b.store == nil {
		return nil
	}
	return b.store.MarkDelivered(eventID)
}

func matchesTypes(eventType EventType, types []EventType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == eventType {
			return true
		}
	}
	return false
}
