package cloudsync

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/homegate-core/internal/registry"
)

// Logger is the logging interface used by CloudSync.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// pushTimeout bounds every individual sink call; a hung cloud endpoint
// must not pile up goroutines.
const pushTimeout = 10 * time.Second

// CloudSync mirrors device lifecycle events to the configured sinks
// (spec §4.6). It implements registry.Observer (register/unregister/
// heartbeat) and coapserver.CloudNotifier (device-originated state
// change) by structural typing; neither package is imported here.
//
// Every push runs on its own detached goroutine; failures are logged and
// dropped, never surfaced to the caller that triggered the event (spec
// §7). Set WorkingOffline to disable both sinks entirely.
type CloudSync struct {
	reg    *registry.Registry
	logger Logger

	mu             sync.RWMutex
	sinks          []*namedSink
	workingOffline bool
}

// New builds a CloudSync bound to reg, used to persist a sink-assigned
// universal_id back onto the device record.
func New(reg *registry.Registry, logger Logger) *CloudSync {
	if logger == nil {
		logger = noopLogger{}
	}
	return &CloudSync{reg: reg, logger: logger}
}

// AddSink registers a sink under name (used in log lines and as the
// circuit breaker's identity).
func (c *CloudSync) AddSink(name string, s Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, newNamedSink(name, s))
}

// SetWorkingOffline toggles the WORKING_OFFLINE kill-switch (spec §4.6).
// While true, no sink is ever called; device writes remain purely local.
func (c *CloudSync) SetWorkingOffline(offline bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workingOffline = offline
}

func (c *CloudSync) snapshotSinks() ([]*namedSink, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sinks, c.workingOffline
}

// OnDeviceRegistered implements registry.Observer.
func (c *CloudSync) OnDeviceRegistered(d *registry.Device) {
	sinks, offline := c.snapshotSinks()
	if offline {
		return
	}
	snap := snapshotOf(d)
	localID := d.LocalID
	for _, ns := range sinks {
		go c.runRegister(ns, localID, snap)
	}
}

// OnDeviceUnregistered implements registry.Observer.
func (c *CloudSync) OnDeviceUnregistered(d *registry.Device) {
	sinks, offline := c.snapshotSinks()
	if offline {
		return
	}
	snap := snapshotOf(d)
	for _, ns := range sinks {
		go c.run(ns, "unregister", func(ctx context.Context) error {
			return ns.sink.Unregister(ctx, snap)
		})
	}
}

// OnHeartbeat implements registry.Observer.
func (c *CloudSync) OnHeartbeat(d *registry.Device) {
	sinks, offline := c.snapshotSinks()
	if offline {
		return
	}
	snap := snapshotOf(d)
	for _, ns := range sinks {
		go c.run(ns, "heartbeat", func(ctx context.Context) error {
			return ns.sink.PushHeartbeat(ctx, snap)
		})
	}
}

// OnDeviceStateChanged implements coapserver.CloudNotifier: fired for
// device-originated writes only (spec §3 data flow).
func (c *CloudSync) OnDeviceStateChanged(d *registry.Device) {
	sinks, offline := c.snapshotSinks()
	if offline {
		return
	}
	snap := snapshotOf(d)
	for _, ns := range sinks {
		go c.run(ns, "state_change", func(ctx context.Context) error {
			return ns.sink.PushStateChange(ctx, snap)
		})
	}
}

func (c *CloudSync) runRegister(ns *namedSink, localID int, snap Snapshot) {
	var universalID string
	_, err := ns.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		id, err := ns.sink.Register(ctx, snap)
		universalID = id
		return nil, err
	})
	if err != nil {
		c.logger.Warn("cloud sync register failed", "sink", ns.name, "device_id", localID, "error", err)
		return
	}
	if universalID != "" && snap.UniversalID == "" {
		if err := c.reg.SetUniversalID(localID, universalID); err != nil {
			c.logger.Warn("cloud sync: recording universal_id failed", "sink", ns.name, "device_id", localID, "error", err)
		}
	}
}

func (c *CloudSync) run(ns *namedSink, event string, fn func(ctx context.Context) error) {
	_, err := ns.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		return nil, fn(ctx)
	})
	if err != nil {
		c.logger.Warn("cloud sync push failed", "sink", ns.name, "event", event, "error", err)
	}
}
