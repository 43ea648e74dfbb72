package events

import (
	"sync"

	"github.com/oshokin/inference-runtime/internal/metrics"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 256

// Filter selects the events a subscriber receives. Nil accepts everything.
type Filter func(Event) bool

// ChannelFilter accepts events on the named channel.
func ChannelFilter(channel string) Filter {
	return func(ev Event) bool {
		return ev.Channel == channel
	}
}

// subscriber is one registered consumer.
type subscriber struct {
	ch     chan Event
	filter Filter
}

// Broker fans events out to subscribers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	buffer int
	closed bool
}

// NewBroker returns a Broker whose subscribers buffer up to buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	return &Broker{
		subs:   make(map[uint64]*subscriber),
		buffer: buffer,
	}
}

// Subscribe registers a consumer. The returned cancel function unregisters it
// and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)

		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{ch: ch, filter: filter}

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
}

// Publish implements Publisher. Subscribers with a full buffer lose the event.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}

		select {
		case sub.ch <- ev:
		default:
			metrics.IncDropped(ev.Channel)
		}
	}
}

// Close unregisters every subscriber and closes their channels.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
