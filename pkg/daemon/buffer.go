package daemon

import (
	"sync"

	"github.com/spectra-assist/spectra/pkg/protocol"
)

// maxBufferedEvents caps the offline queue. Coalescing already bounds
// status updates to one per agent; on overflow the oldest status update
// is evicted first so complete events survive the outage.
const maxBufferedEvents = 256

// eventBuffer holds undeliverable events while the server is unreachable.
// Complete events are never dropped. Status updates coalesce per agent,
// most recent wins, because only the latest state matters after an outage.
// Log lines are not buffered at all.
type eventBuffer struct {
	mu      sync.Mutex
	entries []bufferedEvent
}

type bufferedEvent struct {
	agentID string
	env     *protocol.Envelope
}

// Add queues one event for the next flush.
func (b *eventBuffer) Add(agentID string, env *protocol.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if env.Type == protocol.TypeStatusUpdate {
		for i, e := range b.entries {
			if e.agentID == agentID && e.env.Type == protocol.TypeStatusUpdate {
				b.entries[i].env = env
				return
			}
		}
	}
	if len(b.entries) >= maxBufferedEvents {
		if !b.evictOldestStatus() && env.Type != protocol.TypeComplete {
			return
		}
	}
	b.entries = append(b.entries, bufferedEvent{agentID: agentID, env: env})
}

// evictOldestStatus drops the oldest non-complete entry. Reports whether
// anything was evicted.
func (b *eventBuffer) evictOldestStatus() bool {
	for i, e := range b.entries {
		if e.env.Type != protocol.TypeComplete {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Drain removes and returns all buffered events in arrival order.
func (b *eventBuffer) Drain() []*protocol.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*protocol.Envelope, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.env
	}
	b.entries = nil
	return out
}

// Len reports the number of buffered events.
func (b *eventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
