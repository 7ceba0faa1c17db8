package cloudsync

import "context"

// Sink is one external shadow a device's lifecycle is mirrored to (spec
// §4.6: the proprietary cloud and the AWS IoT device shadow are each a
// Sink). Every method may block on network I/O; callers run it on a
// detached worker.
type Sink interface {
	// Register mirrors a newly created device. It returns the sink's own
	// identifier for the device when the sink assigns one (the
	// proprietary cloud's universal_id); callers persist it via
	// registry.SetUniversalID. A sink with no such concept returns "".
	Register(ctx context.Context, snap Snapshot) (universalID string, err error)

	// Unregister mirrors a deleted device.
	Unregister(ctx context.Context, snap Snapshot) error

	// PushStateChange mirrors a device-originated state change.
	PushStateChange(ctx context.Context, snap Snapshot) error

	// PushHeartbeat mirrors a liveness heartbeat. Sinks that do not track
	// liveness separately from state (the AWS shadow) may no-op.
	PushHeartbeat(ctx context.Context, snap Snapshot) error
}
