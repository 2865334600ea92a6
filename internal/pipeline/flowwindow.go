package pipeline

import (
	"sync"

	"segflow/pkg/models"
)

// FlowWindow keeps a bounded buffer of recent flow observations for the
// policy matrix build. Sketches retain only aggregate behavior, so the
// matrix needs the raw pairwise flows from the most recent window; older
// flows are evicted once capacity is reached.
type FlowWindow struct {
	mu    sync.Mutex
	buf   []*models.FlowObservation
	next  int
	count int
}

// NewFlowWindow creates a window retaining up to capacity flows.
func NewFlowWindow(capacity int) *FlowWindow {
	if capacity <= 0 {
		capacity = 100000
	}
	return &FlowWindow{buf: make([]*models.FlowObservation, capacity)}
}

// Append records one flow, evicting the oldest when full.
func (w *FlowWindow) Append(flow *models.FlowObservation) {
	w.mu.Lock()
	w.buf[w.next] = flow
	w.next = (w.next + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
	w.mu.Unlock()
}

// Snapshot returns the retained flows oldest first.
func (w *FlowWindow) Snapshot() []*models.FlowObservation {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]*models.FlowObservation, 0, w.count)
	start := w.next - w.count
	if start < 0 {
		start += len(w.buf)
	}
	for i := 0; i < w.count; i++ {
		out = append(out, w.buf[(start+i)%len(w.buf)])
	}
	return out
}

// Len reports the number of retained flows.
func (w *FlowWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
