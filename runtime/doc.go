// Package runtime implements the per-agent execution loop and finite state
// machine: Spawning -> Running -> (Deciding <-> Waiting <-> Acting) ->
// Terminated, with Errored as an absorbing but non-fatal state reached when
// the Decision Engine retry budget is exhausted.
//
// A runtime owns exactly one mailbox and never touches another agent's
// private state; every cross-agent effect goes through the bus or the
// manager. Waiting is the sole cooperative suspension point, which bounds
// the worst case cancellation latency to the configured receive timeout.
package runtime
