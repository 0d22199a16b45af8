// Package testutil provides common testing utilities.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/R3E-Network/ajax_layer/internal/app/signals"
)

// SQLiteDSN returns the DSN of a fresh file-backed sqlite database that is
// removed with the test's temp dir. Foreign keys are enforced.
func SQLiteDSN(t testing.TB, name string) string {
	t.Helper()
	return "file:" + filepath.Join(t.TempDir(), name) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// SignalRecorder collects the events delivered on a signal.
type SignalRecorder struct {
	mu     sync.Mutex
	events []signals.Event
}

// RecordSignal connects a recorder to sig until the test ends.
func RecordSignal(t testing.TB, sig *signals.Signal) *SignalRecorder {
	t.Helper()
	rec := &SignalRecorder{}
	disconnect := sig.Connect(func(_ context.Context, ev signals.Event) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.events = append(rec.events, ev)
	})
	t.Cleanup(disconnect)
	return rec
}

// Events returns a copy of the recorded events.
func (r *SignalRecorder) Events() []signals.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]signals.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *SignalRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
