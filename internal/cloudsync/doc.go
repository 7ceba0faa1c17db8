// Package cloudsync bridges the local device registry to two optional,
// independent external sinks (spec §4.6): a proprietary cloud API and an
// AWS IoT device shadow. It implements registry.Observer to receive
// lifecycle events (register, unregister, heartbeat) and is handed to
// coapserver.Dispatcher (SetCloudNotifier) to receive device-originated
// state changes.
//
// Every push to a sink runs on its own detached worker; a sink failure is
// logged and dropped, never surfaced to the caller that triggered the
// event (spec §7). A circuit breaker per sink keeps a dead endpoint from
// being hammered once per device event. The WORKING_OFFLINE setting
// disables both sinks entirely, in which case CloudSync degrades to a
// no-op observer.
package cloudsync
