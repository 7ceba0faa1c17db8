package cloudsync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homegate-core/internal/catalog"
	"github.com/nerrad567/homegate-core/internal/registry"
)

type recordedCall struct {
	event string
	snap  Snapshot
}

type fakeSink struct {
	mu          sync.Mutex
	calls       []recordedCall
	registerID  string
	registerErr error
	pushErr     error
}

func (f *fakeSink) record(event string, snap Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{event: event, snap: snap})
}

func (f *fakeSink) Register(_ context.Context, snap Snapshot) (string, error) {
	f.record("register", snap)
	return f.registerID, f.registerErr
}

func (f *fakeSink) Unregister(_ context.Context, snap Snapshot) error {
	f.record("unregister", snap)
	return nil
}

func (f *fakeSink) PushStateChange(_ context.Context, snap Snapshot) error {
	f.record("state_change", snap)
	return f.pushErr
}

func (f *fakeSink) PushHeartbeat(_ context.Context, snap Snapshot) error {
	f.record("heartbeat", snap)
	return nil
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSink) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.calls))
	for i, c := range f.calls {
		names[i] = c.event
	}
	return names
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
			"SCALAR_TYPES": []catalog.Scalar{},
			"ENUM_TYPES": []catalog.Enum{
				{ID: "onoff", Name: "On/Off", Choices: map[string]float64{"on": 1, "off": 0}, DefaultLabel: "off"},
			},
		}),
		PropertyTypes: write("property_types.json", map[string]any{
			"PROPERTY_TYPES": []catalog.PropertyType{
				{ID: "power", Access: catalog.AccessRW, ValueClass: catalog.ValueClassEnum, ValueTypeID: "onoff"},
			},
		}),
		DeviceTypes: write("device_types.json", map[string]any{
			"DEVICE_TYPES": []catalog.DeviceType{
				{ID: "lamp", Name: "Lamp", Properties: []string{"power"}},
			},
		}),
		Services: write("services.json", map[string]any{"SERVICES": []catalog.Service{}}),
	}

	cat := catalog.New(paths, nil)
	if err := cat.Load(); err != nil {
		t.Fatalf("catalog Load() error = %v", err)
	}
	return cat
}

func newTestDevice(t *testing.T) (*registry.Registry, int) {
	t.Helper()
	reg := registry.New(newTestCatalog(t), nil)
	dev, err := reg.Create("192.168.1.50", 5683, registry.CreateRequest{Name: "lamp1", DeviceType: "lamp", Services: nil, Timeout: 60})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return reg, dev.LocalID
}

func TestOnDeviceRegistered_PushesToAllSinksAndAdoptsUniversalID(t *testing.T) {
	reg, id := newTestDevice(t)
	cs := New(reg, nil)
	sinkA := &fakeSink{registerID: "cloud-42"}
	sinkB := &fakeSink{}
	cs.AddSink("proprietary", sinkA)
	cs.AddSink("aws", sinkB)
	reg.SetObserver(cs)

	dev, _ := reg.Get(id)
	cs.OnDeviceRegistered(dev)

	waitFor(t, func() bool { return sinkA.callCount() == 1 && sinkB.callCount() == 1 })

	updated, err := reg.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if updated.UniversalID != "cloud-42" {
		t.Fatalf("UniversalID = %q, want cloud-42 (adopted from register response)", updated.UniversalID)
	}
}

func TestWorkingOffline_SuppressesAllPushes(t *testing.T) {
	reg, id := newTestDevice(t)
	cs := New(reg, nil)
	sink := &fakeSink{}
	cs.AddSink("proprietary", sink)
	cs.SetWorkingOffline(true)

	dev, _ := reg.Get(id)
	cs.OnDeviceRegistered(dev)
	cs.OnDeviceStateChanged(dev)
	cs.OnHeartbeat(dev)

	time.Sleep(50 * time.Millisecond)
	if n := sink.callCount(); n != 0 {
		t.Fatalf("expected no sink calls while working offline, got %d", n)
	}
}

func TestOnDeviceStateChanged_PushesStateChangeEvent(t *testing.T) {
	reg, id := newTestDevice(t)
	cs := New(reg, nil)
	sink := &fakeSink{}
	cs.AddSink("proprietary", sink)

	dev, _ := reg.Get(id)
	cs.OnDeviceStateChanged(dev)

	waitFor(t, func() bool { return sink.callCount() == 1 })
	if names := sink.eventNames(); len(names) != 1 || names[0] != "state_change" {
		t.Fatalf("events = %v, want [state_change]", names)
	}
}

func TestOnDeviceUnregistered_PushesUnregisterEvent(t *testing.T) {
	reg, id := newTestDevice(t)
	cs := New(reg, nil)
	sink := &fakeSink{}
	cs.AddSink("proprietary", sink)

	dev, _ := reg.Get(id)
	cs.OnDeviceUnregistered(dev)

	waitFor(t, func() bool { return sink.callCount() == 1 })
	if names := sink.eventNames(); len(names) != 1 || names[0] != "unregister" {
		t.Fatalf("events = %v, want [unregister]", names)
	}
}

func TestOnHeartbeat_PushesHeartbeatEvent(t *testing.T) {
	reg, id := newTestDevice(t)
	cs := New(reg, nil)
	sink := &fakeSink{}
	cs.AddSink("proprietary", sink)

	dev, _ := reg.Get(id)
	cs.OnHeartbeat(dev)

	waitFor(t, func() bool { return sink.callCount() == 1 })
	if names := sink.eventNames(); len(names) != 1 || names[0] != "heartbeat" {
		t.Fatalf("events = %v, want [heartbeat]", names)
	}
}

func TestOnDeviceRegistered_FailedPushDoesNotAdoptUniversalID(t *testing.T) {
	reg, id := newTestDevice(t)
	cs := New(reg, nil)
	sink := &fakeSink{registerErr: context.DeadlineExceeded}
	cs.AddSink("proprietary", sink)

	dev, _ := reg.Get(id)
	cs.OnDeviceRegistered(dev)

	waitFor(t, func() bool { return sink.callCount() == 1 })
	updated, _ := reg.Get(id)
	if updated.UniversalID != "" {
		t.Fatalf("UniversalID = %q, want empty after a failed register push", updated.UniversalID)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
