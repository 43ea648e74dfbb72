package events

import "sync"

// Memory stores events in order of arrival.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory returns an empty Memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish implements Publisher.
func (m *Memory) Publish(ev Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Events returns a copy of the stored events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, len(m.events))
	copy(out, m.events)

	return out
}

// LogLines returns the text of stored log events in order.
func (m *Memory) LogLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lines []string

	for _, ev := range m.events {
		if ev.Log != nil {
			lines = append(lines, ev.Log.Line)
		}
	}

	return lines
}

// Progress returns the stored progress events in order.
func (m *Memory) Progress() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event

	for _, ev := range m.events {
		if ev.Progress != nil {
			out = append(out, ev)
		}
	}

	return out
}
