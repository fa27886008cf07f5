package security

import (
	"sync"

	audit "rollcall/pkg/platform/audit"
)

const defaultBufferSize = 10000

// eventRing is a fixed-size FIFO of security events. A push into a full
// ring overwrites the oldest entry.
type eventRing struct {
	mu     sync.Mutex
	events []audit.SecurityEvent
	start  int
	size   int
}

func newEventRing(capacity int) *eventRing {
	if capacity <= 0 {
		capacity = defaultBufferSize
	}
	return &eventRing{events: make([]audit.SecurityEvent, capacity)}
}

// push appends event and reports whether the oldest event was evicted.
func (r *eventRing) push(event audit.SecurityEvent) (evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	end := (r.start + r.size) % len(r.events)
	r.events[end] = event
	if r.size == len(r.events) {
		r.start = (r.start + 1) % len(r.events)
		return true
	}
	r.size++
	return false
}

// take removes up to n events, oldest first.
func (r *eventRing) take(n int) []audit.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	n = min(n, r.size)
	if n == 0 {
		return nil
	}
	out := make([]audit.SecurityEvent, n)
	for i := range out {
		idx := (r.start + i) % len(r.events)
		out[i] = r.events[idx]
		r.events[idx] = audit.SecurityEvent{}
	}
	r.start = (r.start + n) % len(r.events)
	r.size -= n
	return out
}

func (r *eventRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
