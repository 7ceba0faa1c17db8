package coapserver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/homegate-core/internal/catalog"
	"github.com/nerrad567/homegate-core/internal/registry"
)

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
			"ENUM_TYPES": []catalog.Enum{},
		}),
		PropertyTypes: write("property_types.json", map[string]any{
			"PROPERTY_TYPES": []catalog.PropertyType{
				{ID: "target_temp", Name: "Target Temperature", Access: catalog.AccessRW, ValueClass: catalog.ValueClassScalar, ValueTypeID: "temp_c"},
			},
		}),
		DeviceTypes: write("device_types.json", map[string]any{
			"DEVICE_TYPES": []catalog.DeviceType{
				{ID: "thermostat", Name: "Thermostat", Properties: []string{"target_temp"}},
			},
		}),
		Services: write("services.json", map[string]any{
			"SERVICES": []catalog.Service{{ID: "heating", Name: "Heating"}},
		}),
	}

	cat := catalog.New(paths, nil)
	if err := cat.Load(); err != nil {
		t.Fatalf("catalog Load() error = %v", err)
	}
	return cat
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *registry.Registry) {
	t.Helper()
	cat := newTestCatalog(t)
	reg := registry.New(cat, nil)
	d := NewDispatcher(reg, cat, ServerInfo{ID: "srv-1", Name: "home gate"}, func(addr string) bool {
		return addr == "127.0.0.1"
	}, nil)
	return d, reg
}

func TestDispatch_CreateAndGetDevice(t *testing.T) {
	d, _ := newTestDispatcher(t)

	body, _ := json.Marshal(registry.CreateRequest{Name: "kitchen", DeviceType: "thermostat", Services: []string{"heating"}, Timeout: 30})
	result := d.Dispatch(Request{Method: "POST", Path: "/devices", Body: body, OriginAddr: "10.0.0.5", OriginPort: 5683})
	if result.Status != StatusCreated {
		t.Fatalf("Status = %v, want StatusCreated; payload=%s", result.Status, result.Payload)
	}
	if !result.Changed {
		t.Fatal("expected Changed = true on create")
	}

	get := d.Dispatch(Request{Method: "GET", Path: "/devices/0", OriginAddr: "10.0.0.5"})
	if get.Status != StatusContent {
		t.Fatalf("GET /devices/0 Status = %v, want StatusContent", get.Status)
	}
}

func TestDispatch_CreateDuplicateAddressFails(t *testing.T) {
	d, _ := newTestDispatcher(t)
	body, _ := json.Marshal(registry.CreateRequest{Name: "kitchen", DeviceType: "thermostat", Timeout: 30})

	d.Dispatch(Request{Method: "POST", Path: "/devices", Body: body, OriginAddr: "10.0.0.5"})
	result := d.Dispatch(Request{Method: "POST", Path: "/devices", Body: body, OriginAddr: "10.0.0.5"})
	if result.Status != StatusBadRequest {
		t.Fatalf("Status = %v, want StatusBadRequest for duplicate address", result.Status)
	}
}

func TestDispatch_DeleteRequiresOwnerOrLocal(t *testing.T) {
	d, _ := newTestDispatcher(t)
	body, _ := json.Marshal(registry.CreateRequest{Name: "kitchen", DeviceType: "thermostat", Timeout: 30})
	d.Dispatch(Request{Method: "POST", Path: "/devices", Body: body, OriginAddr: "10.0.0.5"})

	denied := d.Dispatch(Request{Method: "DELETE", Path: "/devices/0", OriginAddr: "10.0.0.99"})
	if denied.Status != StatusForbidden {
		t.Fatalf("Status = %v, want StatusForbidden for a non-owner, non-local delete", denied.Status)
	}

	allowed := d.Dispatch(Request{Method: "DELETE", Path: "/devices/0", OriginAddr: "127.0.0.1"})
	if allowed.Status != StatusDeleted {
		t.Fatalf("Status = %v, want StatusDeleted for a local-origin delete", allowed.Status)
	}
}

func TestDispatch_DeviceStateWrite_OriginDeterminesTarget(t *testing.T) {
	d, _ := newTestDispatcher(t)
	body, _ := json.Marshal(registry.CreateRequest{Name: "kitchen", DeviceType: "thermostat", Timeout: 30})
	d.Dispatch(Request{Method: "POST", Path: "/devices", Body: body, OriginAddr: "10.0.0.5"})

	clientWrite, _ := json.Marshal(map[string]any{"target_temp": 18.0})
	result := d.Dispatch(Request{Method: "PUT", Path: "/devices/0/state", Body: clientWrite, OriginAddr: "10.0.0.99"})
	if result.Status != StatusChanged {
		t.Fatalf("Status = %v, want StatusChanged; payload=%s", result.Status, result.Payload)
	}

	deviceWrite, _ := json.Marshal(map[string]any{"target_temp": 19.0})
	result = d.Dispatch(Request{Method: "PUT", Path: "/devices/0/state", Body: deviceWrite, OriginAddr: "10.0.0.5"})
	if result.Status != StatusChanged {
		t.Fatalf("Status = %v, want StatusChanged", result.Status)
	}
}

func TestDispatch_UnknownPath(t *testing.T) {
	d, _ := newTestDispatcher(t)
	result := d.Dispatch(Request{Method: "GET", Path: "/nonsense"})
	if result.Status != StatusNotFound {
		t.Fatalf("Status = %v, want StatusNotFound", result.Status)
	}
}

func TestDispatch_InfoOwnerOnlyPut(t *testing.T) {
	d, _ := newTestDispatcher(t)
	body, _ := json.Marshal(ServerInfo{ID: "srv-1", Name: "renamed"})

	denied := d.Dispatch(Request{Method: "PUT", Path: "/info", Body: body, OriginAddr: "10.0.0.5"})
	if denied.Status != StatusForbidden {
		t.Fatalf("Status = %v, want StatusForbidden", denied.Status)
	}

	allowed := d.Dispatch(Request{Method: "PUT", Path: "/info", Body: body, OriginAddr: "127.0.0.1"})
	if allowed.Status != StatusChanged {
		t.Fatalf("Status = %v, want StatusChanged", allowed.Status)
	}
}

func TestDispatch_ConfigsRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher(t)

	get := d.Dispatch(Request{Method: "GET", Path: "/configs", Query: map[string]string{"type": "DEVICE_TYPES"}})
	if get.Status != StatusContent {
		t.Fatalf("Status = %v, want StatusContent", get.Status)
	}
	var types []catalog.DeviceType
	if err := json.Unmarshal(get.Payload, &types); err != nil {
		t.Fatalf("unmarshal device types: %v", err)
	}
	if len(types) != 1 || types[0].ID != "thermostat" {
		t.Fatalf("unexpected device types payload: %s", get.Payload)
	}
}

func TestDispatch_ServicesSubresource(t *testing.T) {
	d, reg := newTestDispatcher(t)
	body, _ := json.Marshal(registry.CreateRequest{Name: "kitchen", DeviceType: "thermostat", Services: []string{"heating"}, Timeout: 30})
	d.Dispatch(Request{Method: "POST", Path: "/devices", Body: body, OriginAddr: "10.0.0.5"})

	get := d.Dispatch(Request{Method: "GET", Path: "/devices/0/services"})
	if get.Status != StatusContent {
		t.Fatalf("Status = %v, want StatusContent", get.Status)
	}
	var ids []string
	json.Unmarshal(get.Payload, &ids)
	if len(ids) != 1 || ids[0] != "heating" {
		t.Fatalf("unexpected services payload: %s", get.Payload)
	}

	del := d.Dispatch(Request{Method: "DELETE", Path: "/devices/0/services", Query: map[string]string{"id": "heating"}, OriginAddr: "10.0.0.5"})
	if del.Status != StatusDeleted {
		t.Fatalf("Status = %v, want StatusDeleted", del.Status)
	}
	dev, err := reg.Get(0)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(dev.SubscribedServices) != 0 {
		t.Fatalf("expected services to be empty after delete, got %v", dev.SubscribedServices)
	}
}
