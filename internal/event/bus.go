// Package event delivers engine notifications to external collaborators
// without ever blocking the capture path. Events are queued on a bounded
// channel; under sustained backpressure the oldest queued event is dropped,
// since a consumer can always recover by re-querying the store.
package event

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Handler is a function that handles an event. Handlers run on the bus
// dispatcher goroutine and should hand off long work.
type Handler func(Event)

type subscription struct {
	id        uint64
	eventType string
	handler   Handler
}

// Bus is an asynchronous pub-sub bus with a bounded queue.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription
	nextID        atomic.Uint64
	dropped       atomic.Uint64

	queue chan Event
	done  chan struct{}
	log   *slog.Logger

	closeOnce sync.Once
}

// NewBus creates a bus with the given queue capacity and starts its
// dispatcher goroutine.
func NewBus(queueSize int, log *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = 256
	}
	b := &Bus{
		subscriptions: make(map[string][]subscription),
		queue:         make(chan Event, queueSize),
		done:          make(chan struct{}),
		log:           log,
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler for a specific event type and returns a
// subscription ID usable with Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID.Add(1)
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
	})
	return id
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) uint64 {
	return b.Subscribe("*", handler)
}

// Unsubscribe removes a subscription by ID.
func (b *Bus) Unsubscribe(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				b.subscriptions[eventType] = append(subs[:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish enqueues an event without blocking. If the queue is full the
// oldest queued event is discarded to make room.
func (b *Bus) Publish(event Event) {
	select {
	case <-b.done:
		return
	default:
	}

	for {
		select {
		case b.queue <- event:
			return
		default:
		}

		select {
		case <-b.queue:
			b.dropped.Add(1)
		default:
		}
	}
}

// Dropped reports how many events were discarded under backpressure.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops the dispatcher. Events published after Close are discarded;
// events already queued are not delivered.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
}

func (b *Bus) dispatch() {
	for {
		select {
		case <-b.done:
			return
		case ev := <-b.queue:
			b.deliver(ev)
		}
	}
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	eventType := event.EventType()

	specific := make([]subscription, len(b.subscriptions[eventType]))
	copy(specific, b.subscriptions[eventType])

	wildcard := make([]subscription, len(b.subscriptions["*"]))
	copy(wildcard, b.subscriptions["*"])
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, event)
	}
	for _, sub := range wildcard {
		b.safeCall(sub.handler, event)
	}
}

// safeCall recovers handler panics so one misbehaving subscriber cannot
// stall delivery to the rest.
func (b *Bus) safeCall(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			if b.log != nil {
				b.log.Error("event handler panicked",
					"event", event.EventType(), "panic", r, "stack", string(debug.Stack()))
			}
		}
	}()
	handler(event)
}
