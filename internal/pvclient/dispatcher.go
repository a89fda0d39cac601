package pvclient

import (
	"sync"

	"github.com/beamsim/spearsim/internal/protocol"
)

// responseDispatcher routes pv responses to waiting callers by matching
// correlation IDs.
type responseDispatcher struct {
	mu      sync.Mutex
	waiters map[string]chan *protocol.Message
}

func newResponseDispatcher() *responseDispatcher {
	return &responseDispatcher{
		waiters: make(map[string]chan *protocol.Message),
	}
}

// Register creates a buffered channel for the given correlation ID
// and returns it. The caller should select on this channel with a timeout.
func (d *responseDispatcher) Register(correlationID string) chan *protocol.Message {
	ch := make(chan *protocol.Message, 1)
	d.mu.Lock()
	d.waiters[correlationID] = ch
	d.mu.Unlock()
	return ch
}

// Dispatch sends a response message to the waiter registered for its
// correlation ID. Returns true if a waiter was found.
func (d *responseDispatcher) Dispatch(msg *protocol.Message) bool {
	d.mu.Lock()
	ch, ok := d.waiters[msg.Envelope.CorrelationID]
	if ok {
		delete(d.waiters, msg.Envelope.CorrelationID)
	}
	d.mu.Unlock()

	if ok {
		ch <- msg
		return true
	}
	return false
}

// Deregister removes a waiter without sending a response.
// Used for cleanup after timeout.
func (d *responseDispatcher) Deregister(correlationID string) {
	d.mu.Lock()
	ch, ok := d.waiters[correlationID]
	if ok {
		delete(d.waiters, correlationID)
		close(ch)
	}
	d.mu.Unlock()
}

// PendingCount returns the number of active waiters (for diagnostics).
func (d *responseDispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}
