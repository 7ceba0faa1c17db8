// Package devicestate implements the Device State Machine (spec §4.3):
// the property-write algorithm shared by every entry point that can
// mutate a device's current or desired state, and the asymmetric
// notification policy that follows from it.
//
// A write's effect depends on who originated it. A device reporting its
// own state (the request arrives from the device's registered address)
// updates current and mirrors it into desired — the device is
// authoritative over what is true. Anyone else writing only moves
// desired, and only for RW/WO properties; a client cannot assign a
// read-only property because it does not own the hardware that produces
// it.
//
// This package depends on internal/registry for storage and
// internal/catalog for property validation, but knows nothing about
// CoAP or HTTP — internal/coapserver calls WriteState and uses its
// result to drive RFC 7641 observer notifications.
package devicestate
