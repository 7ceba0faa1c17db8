// Package registry implements the Device Registry (spec §4.2): the set
// of devices known to this server, their uniqueness invariants, local id
// assignment, and the liveness monitor that evicts unreachable devices.
//
// A Registry owns its devices outright (spec §3 Ownership); outside the
// callback of Mutate, which runs under the registry lock against the
// live record, callers never hold a pointer into the live set. Every
// accessor returns a deep copy and every mutator takes a deep copy,
// matching the cache pattern
// used throughout this codebase's device-management packages.
//
// Property-level validation, write semantics, and observer notification
// are not this package's concern; see internal/devicestate, which
// operates on the Device records this package stores.
package registry
