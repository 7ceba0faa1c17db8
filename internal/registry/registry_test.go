package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homegate-core/internal/apperrors"
	"github.com/nerrad567/homegate-core/internal/catalog"
)

// fakeProber lets tests control liveness outcomes per address without a
// real CoAP round trip.
type fakeProber struct {
	mu      sync.Mutex
	failFor map[string]bool
	calls   int
}

func newFakeProber() *fakeProber { return &fakeProber{failFor: make(map[string]bool)} }

func (f *fakeProber) Probe(_ context.Context, address string, _ int, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFor[address] {
		return apperrors.New(apperrors.Timeout, "probe timed out")
	}
	return nil
}

// recordingObserver captures lifecycle callbacks for assertions.
type recordingObserver struct {
	mu           sync.Mutex
	registered   []int
	unregistered []int
	heartbeats   []int
}

func (o *recordingObserver) OnDeviceRegistered(d *Device) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registered = append(o.registered, d.LocalID)
}
func (o *recordingObserver) OnDeviceUnregistered(d *Device) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unregistered = append(o.unregistered, d.LocalID)
}
func (o *recordingObserver) OnHeartbeat(d *Device) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.heartbeats = append(o.heartbeats, d.LocalID)
}

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()

	write := func(name string, v any) string {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal fixture: %v", err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		return path
	}

	paths := catalog.Paths{
		ValueTypes: write("value_types.json", map[string]any{
			"SCALAR_TYPES": []catalog.Scalar{
				{ID: "temp_c", Name: "Temperature", Min: 0, Max: 30, Step: 0.5, Default: 20},
			},
			"ENUM_TYPES": []catalog.Enum{
				{ID: "onoff", Name: "On/Off", Choices: map[string]float64{"on": 1, "off": 0}, DefaultLabel: "off"},
			},
		}),
		PropertyTypes: write("property_types.json", map[string]any{
			"PROPERTY_TYPES": []catalog.PropertyType{
				{ID: "target_temp", Access: catalog.AccessRW, ValueClass: catalog.ValueClassScalar, ValueTypeID: "temp_c"},
				{ID: "power", Access: catalog.AccessRW, ValueClass: catalog.ValueClassEnum, ValueTypeID: "onoff"},
			},
		}),
		DeviceTypes: write("device_types.json", map[string]any{
			"DEVICE_TYPES": []catalog.DeviceType{
				{ID: "thermostat", Name: "Thermostat", Properties: []string{"target_temp", "power"}},
			},
		}),
		Services: write("services.json", map[string]any{
			"SERVICES": []catalog.Service{
				{ID: "heating", Name: "Heating"},
			},
		}),
	}

	cat := catalog.New(paths, nil)
	if err := cat.Load(); err != nil {
		t.Fatalf("catalog Load() error = %v", err)
	}
	return cat
}

func validCreateReq() CreateRequest {
	return CreateRequest{Name: "kitchen-tstat", DeviceType: "thermostat", Services: []string{"heating"}, Timeout: 30}
}

func TestCreate_AssignsSequentialLocalIDs(t *testing.T) {
	r := New(newTestCatalog(t), nil)

	d1, err := r.Create("10.0.0.1", 5683, validCreateReq())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d1.LocalID != 0 {
		t.Fatalf("first device local_id = %d, want 0", d1.LocalID)
	}

	d2, err := r.Create("10.0.0.2", 5683, validCreateReq())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d2.LocalID != 1 {
		t.Fatalf("second device local_id = %d, want 1", d2.LocalID)
	}

	if len(d1.CurrentState) != 2 {
		t.Fatalf("expected default state with 2 slots, got %d", len(d1.CurrentState))
	}
	if v, ok := d1.CurrentState.Get("target_temp"); !ok || v != 20.0 {
		t.Fatalf("default target_temp = %v, %v; want 20.0, true", v, ok)
	}
}

func TestCreate_DuplicateAddressRejected(t *testing.T) {
	r := New(newTestCatalog(t), nil)

	if _, err := r.Create("10.0.0.1", 5683, validCreateReq()); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	_, err := r.Create("10.0.0.1", 5683, validCreateReq())
	if !apperrors.Is(err, apperrors.DuplicateAddress) {
		t.Fatalf("expected DuplicateAddress, got %v", err)
	}
}

func TestCreate_RejectsUnknownTypeAndServices(t *testing.T) {
	r := New(newTestCatalog(t), nil)

	req := validCreateReq()
	req.DeviceType = "nonexistent"
	if _, err := r.Create("10.0.0.1", 5683, req); !apperrors.Is(err, apperrors.BadRequest) {
		t.Fatalf("expected BadRequest for unknown device type, got %v", err)
	}

	req = validCreateReq()
	req.Services = []string{"ghost"}
	if _, err := r.Create("10.0.0.2", 5683, req); !apperrors.Is(err, apperrors.BadRequest) {
		t.Fatalf("expected BadRequest for unknown service, got %v", err)
	}
}

func TestCreate_NotifiesObserver(t *testing.T) {
	r := New(newTestCatalog(t), nil)
	obs := &recordingObserver{}
	r.SetObserver(obs)

	d, err := r.Create("10.0.0.1", 5683, validCreateReq())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(obs.registered) != 1 || obs.registered[0] != d.LocalID {
		t.Fatalf("expected OnDeviceRegistered(%d), got %v", d.LocalID, obs.registered)
	}
}

func TestGet_NotFound(t *testing.T) {
	r := New(newTestCatalog(t), nil)
	if _, err := r.Get(42); !apperrors.Is(err, apperrors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUpdate_NameAlwaysAllowed(t *testing.T) {
	r := New(newTestCatalog(t), nil)
	d, _ := r.Create("10.0.0.1", 5683, validCreateReq())

	newName := "living-room-tstat"
	updated, err := r.Update(d.LocalID, UpdateRequest{Name: &newName}, false)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Name != newName {
		t.Fatalf("Name = %q, want %q", updated.Name, newName)
	}
}

func TestUpdate_ReconfigurationRequiresOwner(t *testing.T) {
	r := New(newTestCatalog(t), nil)
	d, _ := r.Create("10.0.0.1", 5683, validCreateReq())

	newTimeout := 60
	if _, err := r.Update(d.LocalID, UpdateRequest{Timeout: &newTimeout}, false); !apperrors.Is(err, apperrors.Forbidden) {
		t.Fatalf("expected Forbidden for non-owner reconfiguration, got %v", err)
	}
	updated, err := r.Update(d.LocalID, UpdateRequest{Timeout: &newTimeout}, true)
	if err != nil {
		t.Fatalf("owner Update() error = %v", err)
	}
	if updated.TimeoutSeconds != 60 {
		t.Fatalf("TimeoutSeconds = %d, want 60", updated.TimeoutSeconds)
	}
}

func TestDelete_RemovesDeviceAndNotifies(t *testing.T) {
	r := New(newTestCatalog(t), nil)
	obs := &recordingObserver{}
	r.SetObserver(obs)
	d, _ := r.Create("10.0.0.1", 5683, validCreateReq())

	if _, err := r.Delete(d.LocalID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := r.Get(d.LocalID); !apperrors.Is(err, apperrors.NotFound) {
		t.Fatal("expected device to be gone after Delete")
	}
	if len(obs.unregistered) != 1 || obs.unregistered[0] != d.LocalID {
		t.Fatalf("expected OnDeviceUnregistered(%d), got %v", d.LocalID, obs.unregistered)
	}
}

func TestList_TouchesRequesterLastAccess(t *testing.T) {
	r := New(newTestCatalog(t), nil)
	d, _ := r.Create("10.0.0.1", 5683, validCreateReq())

	before := d.LastAccess
	time.Sleep(2 * time.Millisecond)
	r.List("10.0.0.1")

	after, err := r.Get(d.LocalID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !after.LastAccess.After(before) {
		t.Fatal("expected last_access to advance for the matching requester")
	}
}

func TestMonitorLoop_EvictsUnreachableDevices(t *testing.T) {
	r := New(newTestCatalog(t), nil)
	obs := &recordingObserver{}
	r.SetObserver(obs)

	req := validCreateReq()
	req.Timeout = 0 // immediately eligible for a liveness check
	alive, _ := r.Create("10.0.0.1", 5683, req)
	dead, _ := r.Create("10.0.0.2", 5683, req)

	prober := newFakeProber()
	prober.failFor[dead.Address] = true

	r.runMonitorIteration(context.Background(), prober)

	if _, err := r.Get(alive.LocalID); err != nil {
		t.Fatalf("expected live device to survive, Get() error = %v", err)
	}
	if _, err := r.Get(dead.LocalID); !apperrors.Is(err, apperrors.NotFound) {
		t.Fatal("expected unreachable device to be evicted")
	}
	if len(obs.unregistered) != 1 || obs.unregistered[0] != dead.LocalID {
		t.Fatalf("expected eviction notification for %d, got %v", dead.LocalID, obs.unregistered)
	}
}

func TestMonitorLoop_SkipsDevicesWithinTimeout(t *testing.T) {
	r := New(newTestCatalog(t), nil)
	req := validCreateReq()
	req.Timeout = 3600
	d, _ := r.Create("10.0.0.1", 5683, req)

	prober := newFakeProber()
	r.runMonitorIteration(context.Background(), prober)

	if prober.calls != 0 {
		t.Fatalf("expected no probes for a device within its timeout, got %d", prober.calls)
	}
	if _, err := r.Get(d.LocalID); err != nil {
		t.Fatalf("expected device to remain, Get() error = %v", err)
	}
}
