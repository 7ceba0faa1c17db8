package cloudsync

import "github.com/nerrad567/homegate-core/internal/registry"

// Snapshot is the transport-agnostic payload Cloud Sync sends to a sink:
// device info plus the simplified current/desired state (spec §4.6 "push
// an HTTP request carrying the device info and the simplified current
// state").
type Snapshot struct {
	LocalID     int            `json:"local_id"`
	UniversalID string         `json:"universal_id,omitempty"`
	Name        string         `json:"name"`
	Address     string         `json:"address"`
	DeviceType  string         `json:"device_type"`
	Current     map[string]any `json:"current_state"`
	Desired     map[string]any `json:"desired_state"`
}

func snapshotOf(d *registry.Device) Snapshot {
	return Snapshot{
		LocalID:     d.LocalID,
		UniversalID: d.UniversalID,
		Name:        d.Name,
		Address:     d.Address,
		DeviceType:  d.DeviceTypeRef,
		Current:     simplify(d.CurrentState),
		Desired:     simplify(d.DesiredState),
	}
}

func simplify(s registry.State) map[string]any {
	m := make(map[string]any, len(s))
	for _, pv := range s {
		m[pv.PropertyID] = pv.Value
	}
	return m
}
