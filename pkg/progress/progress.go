// Package progress reports the phase and fractional completion of long
// running purge/compact operations, both as a channel of Events for
// CLI rendering and as Prometheus counters/histograms for operators
// running coldvault unattended (spec.md §4.7).
package progress

import "context"

// Event is one progress update.
type Event struct {
	// Phase names the current step, e.g. "scan", "rewrite", "upload".
	Phase string
	// Fraction is overall completion in [0, 1].
	Fraction float64
}

// Span apportions a sub-range of the overall [0, 1] progress axis to one
// phase, used by compact to reserve its trailing quarter for the
// upload/delete phase (spec.md §4.7 "Span{Offset, Width} helper for
// apportioning compact's trailing 25%").
type Span struct {
	Offset float64
	Width  float64
}

// At maps a phase-local fraction in [0, 1] to the overall fraction
// covered by this span.
func (s Span) At(localFraction float64) float64 {
	return s.Offset + localFraction*s.Width
}

// Emit sends an event on ch, blocking until the consumer receives it or
// ctx is cancelled. ch is expected to be unbuffered (spec.md §4.7); a
// nil ch means no one is listening and Emit is a no-op.
func Emit(ctx context.Context, ch chan<- Event, phase string, fraction float64) {
	if ch == nil {
		return
	}
	select {
	case ch <- Event{Phase: phase, Fraction: fraction}:
	case <-ctx.Done():
	}
}
