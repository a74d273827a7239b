package bus

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentherd/core"
)

// Mailbox is an ordered, unbounded message queue owned exclusively by one
// agent. It is created at subscribe time and destroyed at unsubscribe time;
// enqueue order is delivery order.
type Mailbox struct {
	owner core.AgentID

	mu     sync.Mutex
	queue  []core.Message
	closed bool
	notify chan struct{} // capacity 1, coalesced wakeup signal
}

func newMailbox(owner core.AgentID) *Mailbox {
	return &Mailbox{owner: owner, notify: make(chan struct{}, 1)}
}

// Owner returns the agent ID this mailbox belongs to.
func (m *Mailbox) Owner() core.AgentID { return m.owner }

// enqueue appends a message and wakes a blocked receiver. It reports false
// when the mailbox has already been destroyed.
func (m *Mailbox) enqueue(msg core.Message) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// takeAll removes and returns every queued message in enqueue order.
func (m *Mailbox) takeAll() []core.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.queue
	m.queue = nil
	return msgs
}

// Drain removes and returns every queued message without blocking. The
// owning runtime uses it at the top of a decision cycle.
func (m *Mailbox) Drain() []core.Message {
	return m.takeAll()
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// close marks the mailbox destroyed and discards unread messages, returning
// how many were dropped.
func (m *Mailbox) close() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0
	}
	m.closed = true
	dropped := len(m.queue)
	m.queue = nil
	return dropped
}

// Receive blocks until at least one message is queued, the timeout elapses
// or ctx is cancelled. Timeout and cancellation return an empty slice, not
// an error: an empty result is an ordinary idle observation.
func (m *Mailbox) Receive(ctx context.Context, timeout time.Duration) []core.Message {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if msgs := m.takeAll(); len(msgs) > 0 {
			return msgs
		}
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return nil
		}
		select {
		case <-m.notify:
		case <-timer.C:
			return m.takeAll()
		case <-ctx.Done():
			return nil
		}
	}
}
