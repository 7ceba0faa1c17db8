package devicestate

import (
	"time"

	"github.com/nerrad567/homegate-core/internal/apperrors"
	"github.com/nerrad567/homegate-core/internal/catalog"
	"github.com/nerrad567/homegate-core/internal/registry"
)

// Origin distinguishes a write issued by a device reporting its own
// state from one issued by anyone else (spec §4.3).
type Origin int

const (
	// ClientOriginated is any write whose request address does not match
	// the device's registered address.
	ClientOriginated Origin = iota
	// DeviceOriginated is a write arriving from the device's own address.
	DeviceOriginated
)

// Target names which notification class a completed write belongs to,
// per the asymmetric policy in spec §4.3.
type Target string

const (
	// TargetCurrent means current (and its desired mirror) changed; every
	// observer except the device itself should be notified.
	TargetCurrent Target = "current"
	// TargetDesired means only desired changed; the device itself should
	// be notified so it can pick up the new target.
	TargetDesired Target = "desired"
)

// WriteResult reports what changed so the caller can drive observer
// notification.
type WriteResult struct {
	Target       Target
	ChangedProps []string
}

// ResolvePropertyKey maps a property identifier or name, as found in a
// PUT body, to its canonical property-type id within deviceTypeID (spec
// §4.3 step 1: "property identifier (id or name)").
func ResolvePropertyKey(cat *catalog.Catalog, deviceTypeID, key string) (string, error) {
	dt, err := cat.DeviceType(deviceTypeID)
	if err != nil {
		return "", err
	}
	for _, propID := range dt.Properties {
		if propID == key {
			return propID, nil
		}
		pt, err := cat.PropertyType(propID)
		if err == nil && pt.Name == key {
			return propID, nil
		}
	}
	return "", apperrors.Newf(apperrors.BadRequest, "property %q is not defined on device type %q", key, deviceTypeID)
}

// WriteState applies body (a mapping of property identifier/name to raw
// value) to the device named deviceID, following the write algorithm of
// spec §4.3. All writes in body apply atomically: the first invalid key
// or value aborts the whole request with no partial effect, and the
// read-validate-write sequence runs under a single registry lock
// acquisition (via Registry.Mutate) so a concurrent write to the same
// device can never be silently lost between reading the prior state and
// applying the new one.
func WriteState(reg *registry.Registry, cat *catalog.Catalog, deviceID int, origin Origin, body map[string]any) (WriteResult, error) {
	type resolved struct {
		propID string
		value  any
	}

	var result WriteResult
	_, err := reg.Mutate(deviceID, func(dev *registry.Device) error {
		writes := make([]resolved, 0, len(body))

		for key, raw := range body {
			propID, err := ResolvePropertyKey(cat, dev.DeviceTypeRef, key)
			if err != nil {
				return err
			}

			canonical, err := cat.ValidateValue(propID, raw)
			if err != nil {
				return err
			}

			if origin != DeviceOriginated {
				access, err := cat.Access(propID)
				if err != nil {
					return err
				}
				if access == catalog.AccessRO {
					return apperrors.Newf(apperrors.Forbidden, "property %q is read-only", propID)
				}
			}

			writes = append(writes, resolved{propID: propID, value: canonical})
		}

		changed := make([]string, 0, len(writes))
		for _, w := range writes {
			changed = append(changed, w.propID)
		}

		if origin == DeviceOriginated {
			newCurrent := dev.CurrentState.DeepCopy()
			for _, w := range writes {
				newCurrent = newCurrent.Set(w.propID, w.value)
			}
			dev.CurrentState = newCurrent
			dev.DesiredState = newCurrent.DeepCopy()
			dev.LastAccess = time.Now()
			result = WriteResult{Target: TargetCurrent, ChangedProps: changed}
			return nil
		}

		newDesired := dev.DesiredState.DeepCopy()
		for _, w := range writes {
			newDesired = newDesired.Set(w.propID, w.value)
		}
		dev.DesiredState = newDesired
		dev.LastAccess = time.Now()
		result = WriteResult{Target: TargetDesired, ChangedProps: changed}
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}
	return result, nil
}
