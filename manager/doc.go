// Package manager owns the registry of all agents and drives the population
// level concerns: collision-free ID allocation and atomic spawning, the
// periodic working-memory summarization cadence, global convergence
// detection and graceful shutdown.
//
// The registry is the single source of truth for who exists. All mutations
// pass through the manager under one lock; agents never touch it directly.
// A spawn inserts the registry entry, subscribes the mailbox and links the
// parent's child set atomically, so no reader ever observes a half
// initialized agent.
package manager
