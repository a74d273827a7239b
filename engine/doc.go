// Package engine defines the Decision Engine contract consumed by agent
// runtimes: free text in, free text out. The caller tolerates arbitrary
// output and extracts action tokens from it; engine failures surface as
// ordinary errors and are retried by the runtime, never crashed on.
//
// Concrete adapters over provider SDKs live in the engine/anthropic and
// engine/openai subpackages. The canonical interface stays here so runtimes
// depend on the contract, not on a vendor.
package engine
