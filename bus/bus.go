package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentherd/core"
	"github.com/hupe1980/agentherd/logging"
)

// Options configure a Bus.
type Options struct {
	// Logger receives drop and routing diagnostics. Defaults to NoOp.
	Logger logging.Logger
	// HistorySize bounds the global message history ring.
	HistorySize int
	// FailureNotices controls whether a failed direct delivery generates a
	// system notice back to the sender.
	FailureNotices bool
}

// Bus routes messages between agent mailboxes. All methods are safe for
// arbitrary concurrent invocation.
type Bus struct {
	mu        sync.RWMutex
	mailboxes map[core.AgentID]*Mailbox

	seq    atomic.Uint64
	logger logging.Logger

	histMu  sync.Mutex
	history []core.Message
	histMax int

	failureNotices bool
}

// New constructs an empty bus.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{
		Logger:         logging.NoOpLogger{},
		HistorySize:    core.DefaultConfig().BusHistory,
		FailureNotices: true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Bus{
		mailboxes:      make(map[core.AgentID]*Mailbox),
		logger:         opts.Logger,
		histMax:        opts.HistorySize,
		failureNotices: opts.FailureNotices,
	}
}

// Subscribe creates and registers a mailbox for a not-yet-registered agent.
// A second subscribe for a live ID fails with core.ErrDuplicateSubscriber:
// that indicates an allocator bug upstream, not a recoverable condition.
func (b *Bus) Subscribe(id core.AgentID) (*Mailbox, error) {
	if id == core.Broadcast || id == core.System {
		return nil, fmt.Errorf("reserved agent id %q", id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.mailboxes[id]; ok {
		return nil, fmt.Errorf("subscribe %s: %w", id, core.ErrDuplicateSubscriber)
	}
	mb := newMailbox(id)
	b.mailboxes[id] = mb
	b.logger.Debug("mailbox subscribed", "agent_id", string(id))
	return mb, nil
}

// Unsubscribe destroys the agent's mailbox, discarding unread messages.
// Idempotent: unknown IDs are a no-op.
func (b *Bus) Unsubscribe(id core.AgentID) {
	b.mu.Lock()
	mb, ok := b.mailboxes[id]
	delete(b.mailboxes, id)
	b.mu.Unlock()
	if !ok {
		return
	}
	if dropped := mb.close(); dropped > 0 {
		b.logger.Debug("mailbox drained on unsubscribe", "agent_id", string(id), "dropped", dropped)
	}
}

// Publish stamps the message (ID, sequence, timestamp) and routes it. A
// direct message to a dead mailbox is dropped and logged; the call itself
// never fails the publisher. Broadcast fans out to every mailbox live in the
// subscriber snapshot taken here, excluding the sender's own.
func (b *Bus) Publish(msg core.Message) {
	msg.ID = uuid.NewString()
	msg.Seq = b.seq.Add(1)
	msg.Timestamp = time.Now()

	b.recordHistory(msg)

	if msg.To == core.Broadcast {
		for _, mb := range b.snapshot() {
			if mb.Owner() == msg.From {
				continue
			}
			// A concurrent unsubscribe between snapshot and enqueue loses
			// this one delivery; permitted race.
			if !mb.enqueue(msg) {
				b.logger.Debug("broadcast skipped closed mailbox", "agent_id", string(mb.Owner()))
			}
		}
		return
	}

	if b.deliver(msg.To, msg) {
		return
	}
	b.logger.Warn("message dropped", "from", string(msg.From), "to", string(msg.To), "error", core.ErrMailboxClosed.Error())
	b.notifyFailure(msg)
}

// Receive blocks until the agent has at least one message or the timeout
// elapses, returning queued messages in enqueue order. Unknown IDs return
// nil immediately.
func (b *Bus) Receive(ctx context.Context, id core.AgentID, timeout time.Duration) []core.Message {
	b.mu.RLock()
	mb, ok := b.mailboxes[id]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	return mb.Receive(ctx, timeout)
}

// Pending returns the number of undelivered messages queued for the agent.
func (b *Bus) Pending(id core.AgentID) int {
	b.mu.RLock()
	mb, ok := b.mailboxes[id]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return mb.Len()
}

// Subscribed reports whether the agent currently owns a live mailbox.
func (b *Bus) Subscribed(id core.AgentID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.mailboxes[id]
	return ok
}

// History returns up to limit of the most recent published messages, oldest
// first. System failure notices are not recorded.
func (b *Bus) History(limit int) []core.Message {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]core.Message, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// snapshot copies the live mailbox set; broadcast routing works against this
// consistent view.
func (b *Bus) snapshot() []*Mailbox {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Mailbox, 0, len(b.mailboxes))
	for _, mb := range b.mailboxes {
		out = append(out, mb)
	}
	return out
}

func (b *Bus) deliver(to core.AgentID, msg core.Message) bool {
	b.mu.RLock()
	mb, ok := b.mailboxes[to]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	return mb.enqueue(msg)
}

// notifyFailure tells a still-live sender that its direct message was not
// delivered. The notice bypasses the history ring.
func (b *Bus) notifyFailure(failed core.Message) {
	if !b.failureNotices || failed.From == "" || failed.From == core.System {
		return
	}
	notice := core.Message{
		ID:        uuid.NewString(),
		From:      core.System,
		To:        failed.From,
		Content:   fmt.Sprintf("DELIVERY FAILED: agent %s is not active, your message was not delivered", failed.To),
		Seq:       b.seq.Add(1),
		Timestamp: time.Now(),
	}
	b.deliver(failed.From, notice)
}

func (b *Bus) recordHistory(msg core.Message) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history = append(b.history, msg)
	if b.histMax > 0 && len(b.history) > b.histMax {
		b.history = b.history[len(b.history)-b.histMax:]
	}
}
