package events

import "sync"

// DefaultAsyncBuffer is the queue length of an Async publisher.
const DefaultAsyncBuffer = 64

// Async forwards events to a downstream publisher from its own goroutine so
// the producer never waits on the consumer. Non-terminal progress events are
// dropped when the queue is full; other events wait for room.
type Async struct {
	next  Publisher
	queue chan Event
	done  chan struct{}
	once  sync.Once
}

// NewAsync starts forwarding to next.
func NewAsync(next Publisher, buffer int) *Async {
	if next == nil {
		next = Noop{}
	}

	if buffer <= 0 {
		buffer = DefaultAsyncBuffer
	}

	a := &Async{
		next:  next,
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}

	go a.forward()

	return a
}

// Publish implements Publisher. It must not be called after Close.
func (a *Async) Publish(ev Event) {
	if !ev.droppable() {
		a.queue <- ev

		return
	}

	select {
	case a.queue <- ev:
	default:
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (a *Async) Close() {
	a.once.Do(func() {
		close(a.queue)
	})

	<-a.done
}

// forward drains the queue into the downstream publisher.
func (a *Async) forward() {
	defer close(a.done)

	for ev := range a.queue {
		a.next.Publish(ev)
	}
}
