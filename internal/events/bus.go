package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalGenerated   EventType = "SIGNAL_GENERATED"
	EventTradeOpened       EventType = "TRADE_OPENED"
	EventTradeClosed       EventType = "TRADE_CLOSED"
	EventBacktestCompleted EventType = "BACKTEST_COMPLETED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions. Subscribers run
// synchronously in registration order on the publisher's goroutine.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], fn)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, fn)
}

// Publish delivers an event to all matching subscribers.
func (b *Bus) Publish(t EventType, data map[string]interface{}) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers[t])+len(b.allSubs))
	subs = append(subs, b.subscribers[t]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	ev := Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
	for _, fn := range subs {
		fn(ev)
	}
}
