package install

import (
	"sync"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/service/archive"
	"github.com/oshokin/inference-runtime/internal/service/download"
	"github.com/oshokin/inference-runtime/internal/service/events"
)

// reporter publishes composite progress that never decreases within a phase.
type reporter struct {
	server    backend.Kind
	variant   backend.Variant
	publisher events.Publisher

	mu    sync.Mutex
	phase backend.Phase
	last  int
}

// newReporter returns a reporter publishing to publisher.
func newReporter(server backend.Kind, variant backend.Variant, publisher events.Publisher) *reporter {
	return &reporter{server: server, variant: variant, publisher: publisher, last: -1}
}

// report publishes percent clamped to 0..100 and to the last value of the phase.
func (r *reporter) report(phase backend.Phase, percent int, message string) {
	percent = min(max(percent, 0), donePercent)

	r.mu.Lock()

	if phase != r.phase {
		r.phase = phase
		r.last = -1
	}

	if percent < r.last {
		percent = r.last
	}

	r.last = percent
	r.mu.Unlock()

	r.publisher.Publish(events.NewProgress(backend.ProgressEvent{
		Server:  r.server,
		Variant: r.variant,
		Phase:   phase,
		Percent: percent,
		Message: message,
	}))
}

// downloadPercent maps a transfer snapshot onto 0..50.
func downloadPercent(p download.Progress) int {
	switch {
	case p.Done:
		return downloadShare
	case p.Total <= 0:
		return unknownTotalPercent
	default:
		return int(min(p.Downloaded, p.Total) * downloadShare / p.Total)
	}
}

// downloadMessage renders a transfer snapshot with human readable sizes.
func downloadMessage(p download.Progress) string {
	if p.Total <= 0 {
		return "Downloaded " + backend.FormatSize(p.Downloaded)
	}

	return "Downloaded " + backend.FormatSize(p.Downloaded) + " of " + backend.FormatSize(p.Total)
}

// extractPercent maps an unpack step onto 50..99; 100 is reserved for the final event.
func extractPercent(step archive.Step) int {
	if step.Total <= 0 {
		return downloadShare
	}

	percent := downloadShare + step.Index*(donePercent-downloadShare)/step.Total

	return min(percent, donePercent-1)
}
