package events

import (
	"sync"

	"github.com/josephschmitt/maestro/internal/debug"
	"github.com/josephschmitt/maestro/internal/eventq"
)

// DefaultCapacity is the per-subscriber queue depth.
const DefaultCapacity = 1024

// Bus is the process-wide broadcast channel. Publishing never blocks: a
// subscriber whose queue is full gets a lag notification instead of the
// event and must resynchronize by refetching. Events are never retained.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is one subscriber's view of the Bus. Receive events from C;
// a receive on Lag means events were dropped since the last receive.
type Subscription struct {
	C   <-chan Event
	Lag <-chan struct{}

	bus *Bus
	ch  chan Event
	lag chan struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber with the default queue capacity.
func (b *Bus) Subscribe() *Subscription {
	return b.SubscribeBuffer(DefaultCapacity)
}

// SubscribeBuffer registers a subscriber with an explicit queue capacity.
func (b *Bus) SubscribeBuffer(capacity int) *Subscription {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, capacity),
		lag: make(chan struct{}, 1),
	}
	sub.C = sub.ch
	sub.Lag = sub.lag

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Close removes the subscription from the bus. The event channel is left
// open so a concurrent Publish never sends on a closed channel; pending
// events are simply abandoned.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
}

// Publish fans an event out to every subscriber. A no-op with no
// subscribers. Never blocks.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if len(b.subs) == 0 {
		b.mu.Unlock()
		return
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if !eventq.Offer(s.ch, ev) {
			eventq.Offer(s.lag, struct{}{})
			debug.LogKV("events", "subscriber lagged, event dropped",
				"event_type", ev.EventType(),
				"scope", ev.Scope(),
			)
		}
	}
}
