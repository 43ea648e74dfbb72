package events

import "github.com/oshokin/inference-runtime/internal/domain/backend"

// Event is a self-contained message on a named channel.
// Exactly one of Progress and Log is set.
type Event struct {
	// Channel is the event channel name.
	Channel string
	// Progress is set for install progress events.
	Progress *backend.ProgressEvent
	// Log is set for server log line events.
	Log *backend.LogLineEvent
}

// NewProgress builds an event on the install progress channel.
func NewProgress(ev backend.ProgressEvent) Event {
	return Event{Channel: backend.ChannelInstallProgress, Progress: &ev}
}

// NewLogLine builds an event on the log channel of the line's server kind.
func NewLogLine(ev backend.LogLineEvent) Event {
	return Event{Channel: backend.LogChannel(ev.Server), Log: &ev}
}

// droppable reports whether the event may be discarded under backpressure.
// Terminal progress is always delivered.
func (e Event) droppable() bool {
	return e.Progress == nil || e.Progress.Percent < 100
}

// Publisher receives events. Publish must be safe for concurrent use and must not panic.
type Publisher interface {
	Publish(ev Event)
}

// Noop drops every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(Event) {}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ev Event)

// Publish implements Publisher.
func (f PublisherFunc) Publish(ev Event) {
	f(ev)
}

// Tee delivers every event to each publisher in order.
type Tee []Publisher

// Publish implements Publisher.
func (t Tee) Publish(ev Event) {
	for _, p := range t {
		if p != nil {
			p.Publish(ev)
		}
	}
}
