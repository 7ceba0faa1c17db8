package registry

import "time"

// PropertyValue is one property slot in a device's current or desired
// state (spec §3).
type PropertyValue struct {
	PropertyID string `json:"property_id"`
	Value      any    `json:"value"`
}

// State is a sequence of property slots mirroring a device type's
// property order (spec invariant I3).
type State []PropertyValue

// DeepCopy returns an independent copy of s.
func (s State) DeepCopy() State {
	if s == nil {
		return nil
	}
	cp := make(State, len(s))
	copy(cp, s)
	return cp
}

// Get returns the value stored for propertyID and whether it was found.
func (s State) Get(propertyID string) (any, bool) {
	for _, pv := range s {
		if pv.PropertyID == propertyID {
			return pv.Value, true
		}
	}
	return nil, false
}

// Set returns a copy of s with propertyID's value replaced (or appended
// if absent, which should not happen once a device is created — state
// slots are fixed by invariant I3).
func (s State) Set(propertyID string, value any) State {
	cp := s.DeepCopy()
	for i := range cp {
		if cp[i].PropertyID == propertyID {
			cp[i].Value = value
			return cp
		}
	}
	return append(cp, PropertyValue{PropertyID: propertyID, Value: value})
}

// Device is one registered device (spec §3). It is mutable and owned
// exclusively by a Registry; callers interact with copies.
type Device struct {
	LocalID            int
	UniversalID        string // opaque, assigned by cloud on first successful sync
	Name               string
	Address            string // IPv4
	Port               int
	DeviceTypeRef      string
	SubscribedServices []string
	TimeoutSeconds     int
	LastAccess         time.Time

	CurrentState State
	DesiredState State
}

// DeepCopy returns an independent copy of d.
func (d *Device) DeepCopy() *Device {
	cp := *d
	cp.SubscribedServices = append([]string(nil), d.SubscribedServices...)
	cp.CurrentState = d.CurrentState.DeepCopy()
	cp.DesiredState = d.DesiredState.DeepCopy()
	return &cp
}

// Info is the read-only projection returned by List (spec §4.2 list()).
type Info struct {
	LocalID            int
	UniversalID        string
	Name               string
	Address            string
	Port               int
	DeviceTypeRef      string
	SubscribedServices []string
}

func infoOf(d *Device) Info {
	return Info{
		LocalID:            d.LocalID,
		UniversalID:        d.UniversalID,
		Name:               d.Name,
		Address:            d.Address,
		Port:               d.Port,
		DeviceTypeRef:      d.DeviceTypeRef,
		SubscribedServices: append([]string(nil), d.SubscribedServices...),
	}
}

// CreateRequest is the body of create() (spec §4.2): {name, device_type,
// services, timeout}.
type CreateRequest struct {
	Name       string   `json:"name"`
	DeviceType string   `json:"device_type"`
	Services   []string `json:"services"`
	Timeout    int      `json:"timeout"`
}

// UpdateRequest is the body of update() (spec §4.2): name always;
// type/services/timeout only honoured for owner-originated requests.
type UpdateRequest struct {
	Name       *string   `json:"name,omitempty"`
	DeviceType *string   `json:"device_type,omitempty"`
	Services   *[]string `json:"services,omitempty"`
	Timeout    *int      `json:"timeout,omitempty"`
}
