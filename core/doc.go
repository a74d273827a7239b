// Package core contains the central domain contracts shared by every other
// agentherd package: agent identity and lifecycle states, the immutable
// Message record, the append-only agent history log, registry snapshots and
// the runtime configuration surface.
//
// Keeping these contracts in one leaf package avoids dependency cycles
// between the bus, runtime and manager packages. Implementation packages
// (bus, runtime, manager, engine adapters) depend on core; core depends only
// on the standard library.
package core
