package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/homegate-core/internal/apperrors"
	"github.com/nerrad567/homegate-core/internal/catalog"
)

// Logger defines the logging interface used by the Registry.
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

// Observer receives device lifecycle notifications. Cloud Sync (C6)
// implements this to push shadow registrations and heartbeats.
type Observer interface {
	OnDeviceRegistered(d *Device)
	OnDeviceUnregistered(d *Device)
	OnHeartbeat(d *Device)
}

type noopObserver struct{}

func (noopObserver) OnDeviceRegistered(*Device)   {}
func (noopObserver) OnDeviceUnregistered(*Device) {}
func (noopObserver) OnHeartbeat(*Device)          {}

// Prober issues a liveness check to a device. The CoAP server supplies
// the real implementation (a GET / with a short timeout); it is injected
// here so this package never imports the CoAP transport.
type Prober interface {
	Probe(ctx context.Context, address string, port int, timeout time.Duration) error
}

// Registry holds the set of devices known to this server (spec §4.2).
// All public methods are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	devices  map[int]*Device // by local_id
	catalog  *catalog.Catalog
	logger   Logger
	observer Observer
}

// New creates an empty Registry backed by cat for type/service
// validation.
func New(cat *catalog.Catalog, logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		devices:  make(map[int]*Device),
		catalog:  cat,
		logger:   logger,
		observer: noopObserver{},
	}
}

// SetObserver installs the lifecycle observer. Passing nil restores the
// no-op observer.
func (r *Registry) SetObserver(o Observer) {
	if o == nil {
		o = noopObserver{}
	}
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
}

// List returns a snapshot of every device. If requesterAddr is non-empty
// (a CoAP caller), the device whose address matches it has its
// last_access bumped to now, per spec §4.2.
func (r *Registry) List(requesterAddr string) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.devices))
	for _, d := range r.devices {
		if requesterAddr != "" && d.Address == requesterAddr {
			d.LastAccess = time.Now()
		}
		out = append(out, infoOf(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out
}

// Create registers a new device (spec §4.2 create()).
func (r *Registry) Create(originAddr string, originPort int, req CreateRequest) (*Device, error) {
	if req.Name == "" {
		return nil, apperrors.New(apperrors.BadRequest, "name is required")
	}
	if !r.catalog.ValidateDeviceType(req.DeviceType) {
		return nil, apperrors.Newf(apperrors.BadRequest, "unknown device type %q", req.DeviceType)
	}
	if !r.catalog.ValidateServices(req.Services) {
		return nil, apperrors.New(apperrors.BadRequest, "one or more services are unknown")
	}

	dt, err := r.catalog.DeviceType(req.DeviceType)
	if err != nil {
		return nil, err
	}
	state, err := r.defaultState(dt)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.devices {
		if d.Address == originAddr {
			return nil, apperrors.Newf(apperrors.DuplicateAddress, "address %s is already registered", originAddr)
		}
	}

	d := &Device{
		LocalID:            r.nextIDLocked(),
		Name:               req.Name,
		Address:            originAddr,
		Port:               originPort,
		DeviceTypeRef:      req.DeviceType,
		SubscribedServices: append([]string(nil), req.Services...),
		TimeoutSeconds:     req.Timeout,
		LastAccess:         time.Now(),
		CurrentState:       state,
		DesiredState:       state.DeepCopy(),
	}
	r.devices[d.LocalID] = d

	r.logger.Info("device registered", "local_id", d.LocalID, "name", d.Name, "address", d.Address)
	r.observer.OnDeviceRegistered(d.DeepCopy())
	return d.DeepCopy(), nil
}

func (r *Registry) defaultState(dt catalog.DeviceType) (State, error) {
	state := make(State, 0, len(dt.Properties))
	for _, propID := range dt.Properties {
		v, err := r.catalog.DefaultValue(propID)
		if err != nil {
			return nil, err
		}
		state = append(state, PropertyValue{PropertyID: propID, Value: v})
	}
	return state, nil
}

// nextIDLocked returns max(existing local_ids)+1, or 0 when empty. Must
// be called with r.mu held.
func (r *Registry) nextIDLocked() int {
	max := -1
	for id := range r.devices {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// Get returns a copy of the device named id.
func (r *Registry) Get(id int) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.NotFound, "device %d not found", id)
	}
	return d.DeepCopy(), nil
}

// Update applies body to device id. Name changes are always permitted;
// device_type/services/timeout changes require isOwner (spec §4.2: "owner-
// only reconfiguration of type/services/timeout").
func (r *Registry) Update(id int, body UpdateRequest, isOwner bool) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.NotFound, "device %d not found", id)
	}

	if body.Name != nil {
		d.Name = *body.Name
	}

	if body.DeviceType != nil || body.Services != nil || body.Timeout != nil {
		if !isOwner {
			return nil, apperrors.New(apperrors.Forbidden, "only the owning device may reconfigure type, services, or timeout")
		}
		if body.DeviceType != nil {
			if !r.catalog.ValidateDeviceType(*body.DeviceType) {
				return nil, apperrors.Newf(apperrors.BadRequest, "unknown device type %q", *body.DeviceType)
			}
			dt, err := r.catalog.DeviceType(*body.DeviceType)
			if err != nil {
				return nil, err
			}
			state, err := r.defaultState(dt)
			if err != nil {
				return nil, err
			}
			d.DeviceTypeRef = *body.DeviceType
			d.CurrentState = state
			d.DesiredState = state.DeepCopy()
		}
		if body.Services != nil {
			if !r.catalog.ValidateServices(*body.Services) {
				return nil, apperrors.New(apperrors.BadRequest, "one or more services are unknown")
			}
			d.SubscribedServices = append([]string(nil), (*body.Services)...)
		}
		if body.Timeout != nil {
			d.TimeoutSeconds = *body.Timeout
		}
	}

	return d.DeepCopy(), nil
}

// Delete removes device id. Permission (owner-only via CoAP, or any
// local client over the proxy) is decided by the caller, which holds the
// request origin information this package does not.
func (r *Registry) Delete(id int) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.NotFound, "device %d not found", id)
	}
	delete(r.devices, id)
	r.logger.Info("device removed", "local_id", id, "name", d.Name)
	cp := d.DeepCopy()
	r.observer.OnDeviceUnregistered(cp)
	return cp, nil
}

// SetUniversalID stamps the cloud-assigned universal_id on first
// successful registration (spec §3: "stable for the lifetime of the
// device" once set).
func (r *Registry) SetUniversalID(id int, universalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return apperrors.Newf(apperrors.NotFound, "device %d not found", id)
	}
	if d.UniversalID == "" {
		d.UniversalID = universalID
	}
	return nil
}

// FindByAddress returns the device registered at address, if any.
func (r *Registry) FindByAddress(address string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.Address == address {
			return d.DeepCopy(), true
		}
	}
	return nil, false
}

// Mutate runs fn against the live device named id, holding the registry
// lock for the full read-validate-write sequence. fn reads and writes
// the device's fields directly; returning an error aborts the mutation
// with no partial effect. The returned Device is a copy taken after fn
// returns. Use this instead of a Get-then-write pair whenever the new
// value depends on the current one (internal/devicestate's property
// writes, and any other read-modify-write such as adding or removing a
// single subscribed service) — a separate Get and write leaves a window
// in which a concurrent mutation can be silently overwritten.
func (r *Registry) Mutate(id int, fn func(d *Device) error) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.NotFound, "device %d not found", id)
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	return d.DeepCopy(), nil
}

// Touch bumps last_access for device id to now.
func (r *Registry) Touch(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.LastAccess = time.Now()
	}
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// MonitorLoop runs until ctx is cancelled, checking every tick for
// devices that have gone silent past their timeout_seconds (spec §4.2
// monitor_loop()). Devices that fail the liveness probe are evicted
// after the full iteration completes, so the device set is never
// mutated mid-traversal.
func (r *Registry) MonitorLoop(ctx context.Context, prober Prober, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runMonitorIteration(ctx, prober)
		}
	}
}

// maxProbeTimeout caps the liveness-probe timeout used in
// runMonitorIteration at min(timeout_seconds, 15s) (spec §4.2).
const maxProbeTimeout = 15 * time.Second

func (r *Registry) runMonitorIteration(ctx context.Context, prober Prober) {
	r.mu.RLock()
	snapshot := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		snapshot = append(snapshot, d.DeepCopy())
	}
	r.mu.RUnlock()

	now := time.Now()
	var toEvict []int
	for _, d := range snapshot {
		if now.Sub(d.LastAccess) <= time.Duration(d.TimeoutSeconds)*time.Second {
			continue
		}
		probeTimeout := time.Duration(d.TimeoutSeconds) * time.Second
		if probeTimeout <= 0 || probeTimeout > maxProbeTimeout {
			probeTimeout = maxProbeTimeout
		}
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := prober.Probe(probeCtx, d.Address, d.Port, probeTimeout)
		cancel()
		if err == nil {
			r.Touch(d.LocalID)
			r.observer.OnHeartbeat(d)
			continue
		}
		r.logger.Warn("device failed liveness probe, marking for eviction", "local_id", d.LocalID, "address", d.Address, "error", err)
		toEvict = append(toEvict, d.LocalID)
	}

	for _, id := range toEvict {
		if _, err := r.Delete(id); err != nil {
			r.logger.Error("failed to evict unreachable device", "local_id", id, "error", err)
		}
	}
}
