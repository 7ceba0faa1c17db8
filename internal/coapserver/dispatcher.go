package coapserver

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/homegate-core/internal/apperrors"
	"github.com/nerrad567/homegate-core/internal/catalog"
	"github.com/nerrad567/homegate-core/internal/devicestate"
	"github.com/nerrad567/homegate-core/internal/registry"
)

// ServerInfo is the record served at /info: the server's own identity
// (spec §4.4).
type ServerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Logger is the logging interface used by Dispatcher.
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

// Dispatcher implements the CoAP resource tree of spec §4.4, routing
// each request to the registry, catalog, and device-state machine and
// producing a transport-agnostic Result.
type Dispatcher struct {
	reg *registry.Registry
	cat *catalog.Catalog
	obs *ObserverTable

	infoMu sync.RWMutex
	info   ServerInfo

	// isLocalOrigin reports whether addr is the proxy's own address —
	// the sense of "local client" in spec §4.2's delete() and §4.4's
	// owner-only /info PUT.
	isLocalOrigin func(addr string) bool

	cloud CloudNotifier

	logger Logger
}

// CloudNotifier receives device-originated state changes, the third leg
// of the data flow "devices → CoAP → State Machine → (observers, Cloud
// Sync, local clients)". Cloud Sync (C6) implements this.
type CloudNotifier interface {
	OnDeviceStateChanged(d *registry.Device)
}

type noopCloudNotifier struct{}

func (noopCloudNotifier) OnDeviceStateChanged(*registry.Device) {}

// SetCloudNotifier wires a CloudNotifier into the dispatcher. Until
// called, device-originated state changes are simply not reported to
// Cloud Sync.
func (d *Dispatcher) SetCloudNotifier(n CloudNotifier) {
	if n == nil {
		n = noopCloudNotifier{}
	}
	d.cloud = n
}

// NewDispatcher builds a Dispatcher. isLocalOrigin may be nil, in which
// case no origin is ever treated as local.
func NewDispatcher(reg *registry.Registry, cat *catalog.Catalog, info ServerInfo, isLocalOrigin func(string) bool, logger Logger) *Dispatcher {
	if isLocalOrigin == nil {
		isLocalOrigin = func(string) bool { return false }
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		reg:           reg,
		cat:           cat,
		obs:           NewObserverTable(),
		info:          info,
		isLocalOrigin: isLocalOrigin,
		cloud:         noopCloudNotifier{},
		logger:        logger,
	}
}

// Observers exposes the dispatcher's observer table so transport.go can
// register/unregister observations and push notifications it computes.
func (d *Dispatcher) Observers() *ObserverTable { return d.obs }

// Dispatch routes req to the resource it names and returns the result.
// On the happy path it also fires observer notifications per the
// Changed/Deleted flags, consistent with spec §4.4's post-processing
// contract.
func (d *Dispatcher) Dispatch(req Request) Result {
	segs := splitPath(req.Path)

	var result Result
	switch {
	case len(segs) == 1 && segs[0] == "info":
		result = d.handleInfo(req)
	case len(segs) == 1 && segs[0] == "services":
		result = d.handleServices(req)
	case len(segs) == 1 && segs[0] == "configs":
		result = d.handleConfigs(req)
	case len(segs) == 1 && segs[0] == "devices":
		result = d.handleDevicesCollection(req)
	case len(segs) == 2 && segs[0] == "devices":
		result = d.handleDevice(req, segs[1])
	case len(segs) == 3 && segs[0] == "devices" && segs[2] == "state":
		result = d.handleDeviceState(req, segs[1])
	case len(segs) == 3 && segs[0] == "devices" && segs[2] == "type":
		result = d.handleDeviceType(req, segs[1])
	case len(segs) == 3 && segs[0] == "devices" && segs[2] == "services":
		result = d.handleDeviceServices(req, segs[1])
	default:
		result = errorResult(StatusNotFound, "no resource at this path")
	}

	d.notify(req.Path, result)
	return result
}

func (d *Dispatcher) notify(path string, r Result) {
	if !r.Changed && !r.Deleted {
		return
	}
	payload := r.Payload
	if strings.HasSuffix(path, "/state") {
		deviceAddr := d.deviceAddrForStatePath(path)
		d.obs.NotifyStateChange(path, deviceAddr, r.WriteOrigin, payload)
		return
	}
	d.obs.NotifyAll(path, payload)
}

func (d *Dispatcher) deviceAddrForStatePath(path string) string {
	segs := splitPath(path)
	if len(segs) < 2 {
		return ""
	}
	id, err := strconv.Atoi(segs[1])
	if err != nil {
		return ""
	}
	dev, err := d.reg.Get(id)
	if err != nil {
		return ""
	}
	return dev.Address
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// --- /info ---

func (d *Dispatcher) handleInfo(req Request) Result {
	switch req.Method {
	case "GET":
		d.infoMu.RLock()
		defer d.infoMu.RUnlock()
		body, _ := json.Marshal(d.info)
		return Result{Status: StatusContent, Payload: body}
	case "PUT":
		if !d.isLocalOrigin(req.OriginAddr) {
			return resultFromError(apperrors.New(apperrors.Forbidden, "/info may only be changed by the local server"))
		}
		var in ServerInfo
		if err := json.Unmarshal(req.Body, &in); err != nil {
			return resultFromError(apperrors.Wrap(apperrors.BadRequest, err, "decoding /info body"))
		}
		d.infoMu.Lock()
		d.info = in
		d.infoMu.Unlock()
		body, _ := json.Marshal(in)
		return Result{Status: StatusChanged, Payload: body, Changed: true}
	default:
		return errorResult(StatusMethodNotAllowed, "method not allowed on /info")
	}
}

// --- /services ---

func (d *Dispatcher) handleServices(req Request) Result {
	switch req.Method {
	case "GET":
		body, _ := json.Marshal(d.cat.AllServices())
		return Result{Status: StatusContent, Payload: body}
	case "PUT":
		raw := json.RawMessage(req.Body)
		if err := d.cat.Replace(catalog.KindService, raw); err != nil {
			return resultFromError(err)
		}
		body, _ := json.Marshal(d.cat.AllServices())
		return Result{Status: StatusChanged, Payload: body, Changed: true}
	default:
		return errorResult(StatusMethodNotAllowed, "method not allowed on /services")
	}
}

// --- /configs ---

func (d *Dispatcher) handleConfigs(req Request) Result {
	switch req.Method {
	case "GET":
		t := req.Query["type"]
		if t == "" {
			return Result{Status: StatusContent, Payload: d.cat.ExportAll()}
		}
		kind, err := catalog.KindFromConfigType(t)
		if err != nil {
			return resultFromError(err)
		}
		body, err := d.cat.Export(kind)
		if err != nil {
			return resultFromError(err)
		}
		return Result{Status: StatusContent, Payload: body}
	case "PUT":
		t := req.Query["type"]
		kind, err := catalog.KindFromConfigType(t)
		if err != nil {
			return resultFromError(err)
		}
		if err := d.cat.Replace(kind, json.RawMessage(req.Body)); err != nil {
			return resultFromError(err)
		}
		body, _ := d.cat.Export(kind)
		return Result{Status: StatusChanged, Payload: body, Changed: true}
	default:
		return errorResult(StatusMethodNotAllowed, "method not allowed on /configs")
	}
}

// --- /devices ---

func (d *Dispatcher) handleDevicesCollection(req Request) Result {
	switch req.Method {
	case "GET":
		infos := d.reg.List(req.OriginAddr)
		body, _ := json.Marshal(infos)
		return Result{Status: StatusContent, Payload: body}
	case "POST":
		var in registry.CreateRequest
		if err := json.Unmarshal(req.Body, &in); err != nil {
			return resultFromError(apperrors.Wrap(apperrors.BadRequest, err, "decoding device body"))
		}
		dev, err := d.reg.Create(req.OriginAddr, req.OriginPort, in)
		if err != nil {
			return resultFromError(err)
		}
		body, _ := json.Marshal(dev)
		return Result{Status: StatusCreated, Payload: body, Changed: true}
	default:
		return errorResult(StatusMethodNotAllowed, "method not allowed on /devices")
	}
}

func (d *Dispatcher) handleDevice(req Request, idStr string) Result {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return resultFromError(apperrors.Newf(apperrors.BadRequest, "invalid device id %q", idStr))
	}

	switch req.Method {
	case "GET":
		dev, err := d.reg.Get(id)
		if err != nil {
			return resultFromError(err)
		}
		body, _ := json.Marshal(dev)
		return Result{Status: StatusContent, Payload: body}
	case "PUT":
		dev, err := d.reg.Get(id)
		if err != nil {
			return resultFromError(err)
		}
		var in registry.UpdateRequest
		if err := json.Unmarshal(req.Body, &in); err != nil {
			return resultFromError(apperrors.Wrap(apperrors.BadRequest, err, "decoding device body"))
		}
		isOwner := req.OriginAddr == dev.Address
		updated, err := d.reg.Update(id, in, isOwner)
		if err != nil {
			return resultFromError(err)
		}
		body, _ := json.Marshal(updated)
		return Result{Status: StatusChanged, Payload: body, Changed: true}
	case "DELETE":
		dev, err := d.reg.Get(id)
		if err != nil {
			return resultFromError(err)
		}
		isOwner := req.OriginAddr == dev.Address
		if !isOwner && !d.isLocalOrigin(req.OriginAddr) {
			return resultFromError(apperrors.New(apperrors.Forbidden, "only the device or a local client may delete a device"))
		}
		if _, err := d.reg.Delete(id); err != nil {
			return resultFromError(err)
		}
		return Result{Status: StatusDeleted, Deleted: true}
	default:
		return errorResult(StatusMethodNotAllowed, "method not allowed on /devices/{id}")
	}
}

// --- /devices/{id}/state ---

func (d *Dispatcher) handleDeviceState(req Request, idStr string) Result {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return resultFromError(apperrors.Newf(apperrors.BadRequest, "invalid device id %q", idStr))
	}

	switch req.Method {
	case "GET":
		dev, err := d.reg.Get(id)
		if err != nil {
			return resultFromError(err)
		}
		body, _ := json.Marshal(struct {
			Current registry.State `json:"current"`
			Desired registry.State `json:"desired"`
		}{Current: dev.CurrentState, Desired: dev.DesiredState})
		return Result{Status: StatusContent, Payload: body}
	case "PUT":
		dev, err := d.reg.Get(id)
		if err != nil {
			return resultFromError(err)
		}
		var body map[string]any
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return resultFromError(apperrors.Wrap(apperrors.BadRequest, err, "decoding state body"))
		}
		origin := devicestate.ClientOriginated
		if req.OriginAddr == dev.Address {
			origin = devicestate.DeviceOriginated
		}
		writeResult, err := devicestate.WriteState(d.reg, d.cat, id, origin, body)
		if err != nil {
			return resultFromError(err)
		}
		updated, _ := d.reg.Get(id)
		respBody, _ := json.Marshal(struct {
			Current registry.State `json:"current"`
			Desired registry.State `json:"desired"`
		}{Current: updated.CurrentState, Desired: updated.DesiredState})
		if origin == devicestate.DeviceOriginated {
			d.cloud.OnDeviceStateChanged(updated)
		}
		return Result{
			Status:       StatusChanged,
			Payload:      respBody,
			Changed:      true,
			WriteOrigin:  origin,
			ChangedProps: writeResult.ChangedProps,
		}
	default:
		return errorResult(StatusMethodNotAllowed, "method not allowed on /devices/{id}/state")
	}
}

// --- /devices/{id}/type ---

func (d *Dispatcher) handleDeviceType(req Request, idStr string) Result {
	if req.Method != "GET" {
		return errorResult(StatusMethodNotAllowed, "method not allowed on /devices/{id}/type")
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return resultFromError(apperrors.Newf(apperrors.BadRequest, "invalid device id %q", idStr))
	}
	dev, err := d.reg.Get(id)
	if err != nil {
		return resultFromError(err)
	}
	dt, err := d.cat.DeviceType(dev.DeviceTypeRef)
	if err != nil {
		return resultFromError(err)
	}
	body, _ := json.Marshal(dt)
	return Result{Status: StatusContent, Payload: body}
}

// --- /devices/{id}/services ---

func (d *Dispatcher) handleDeviceServices(req Request, idStr string) Result {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return resultFromError(apperrors.Newf(apperrors.BadRequest, "invalid device id %q", idStr))
	}

	switch req.Method {
	case "GET":
		dev, err := d.reg.Get(id)
		if err != nil {
			return resultFromError(err)
		}
		known := d.cat.FilterKnownServices(dev.SubscribedServices)
		body, _ := json.Marshal(known)
		return Result{Status: StatusContent, Payload: body}
	case "PUT":
		var ids []string
		if err := json.Unmarshal(req.Body, &ids); err != nil {
			return resultFromError(apperrors.Wrap(apperrors.BadRequest, err, "decoding services body"))
		}
		updated, err := d.mutateServices(id, req.OriginAddr, func([]string) ([]string, error) {
			return ids, nil
		})
		if err != nil {
			return resultFromError(err)
		}
		body, _ := json.Marshal(updated.SubscribedServices)
		return Result{Status: StatusChanged, Payload: body, Changed: true}
	case "POST":
		var in struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.Body, &in); err != nil {
			return resultFromError(apperrors.Wrap(apperrors.BadRequest, err, "decoding service id"))
		}
		updated, err := d.mutateServices(id, req.OriginAddr, func(current []string) ([]string, error) {
			return append(append([]string(nil), current...), in.ID), nil
		})
		if err != nil {
			return resultFromError(err)
		}
		body, _ := json.Marshal(updated.SubscribedServices)
		return Result{Status: StatusChanged, Payload: body, Changed: true}
	case "DELETE":
		removeID := req.Query["id"]
		updated, err := d.mutateServices(id, req.OriginAddr, func(current []string) ([]string, error) {
			next := make([]string, 0, len(current))
			for _, s := range current {
				if s != removeID {
					next = append(next, s)
				}
			}
			return next, nil
		})
		if err != nil {
			return resultFromError(err)
		}
		body, _ := json.Marshal(updated.SubscribedServices)
		return Result{Status: StatusDeleted, Payload: body, Changed: true}
	default:
		return errorResult(StatusMethodNotAllowed, "method not allowed on /devices/{id}/services")
	}
}

// mutateServices recomputes a device's subscribed-service list from its
// live value under the registry lock (Registry.Mutate), so a concurrent
// add/remove on the same device can never be lost between reading the
// current list and writing the recomputed one back.
func (d *Dispatcher) mutateServices(id int, originAddr string, fn func(current []string) ([]string, error)) (*registry.Device, error) {
	return d.reg.Mutate(id, func(dev *registry.Device) error {
		if originAddr != dev.Address {
			return apperrors.New(apperrors.Forbidden, "only the owning device may reconfigure type, services, or timeout")
		}
		next, err := fn(dev.SubscribedServices)
		if err != nil {
			return err
		}
		if !d.cat.ValidateServices(next) {
			return apperrors.New(apperrors.BadRequest, "one or more services are unknown")
		}
		dev.SubscribedServices = next
		dev.LastAccess = time.Now()
		return nil
	})
}
