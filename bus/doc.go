// Package bus implements the thread-safe publish/subscribe routing layer.
// It owns one inbound mailbox per registered agent and guarantees FIFO
// delivery per mailbox; no ordering is promised across mailboxes.
//
// Publishing to a terminated or never-subscribed agent never fails the
// caller: the message is dropped, the drop is logged, and when the sender is
// still live it receives a system-authored delivery-failure notice instead.
//
// Broadcast delivery works against a snapshot of subscribers taken at the
// start of the publish call. An agent subscribing or unsubscribing while the
// broadcast is in flight may or may not receive that one message; the race
// is permitted and intentionally not eliminated.
package bus
