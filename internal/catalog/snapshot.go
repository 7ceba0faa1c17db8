package catalog

import "fmt"

// snapshot is one immutable, fully cross-referenced generation of the
// catalog. A Catalog always points at exactly one snapshot; Replace
// installs a new one wholesale.
type snapshot struct {
	scalars       map[string]Scalar
	enums         map[string]Enum
	propertyTypes map[string]PropertyType
	deviceTypes   map[string]DeviceType
	services      map[string]Service
}

func newEmptySnapshot() *snapshot {
	return &snapshot{
		scalars:       make(map[string]Scalar),
		enums:         make(map[string]Enum),
		propertyTypes: make(map[string]PropertyType),
		deviceTypes:   make(map[string]DeviceType),
		services:      make(map[string]Service),
	}
}

// clone returns a shallow copy of s whose maps are independent, so a
// staged Replace can mutate the copy without affecting readers of the
// live snapshot until the atomic swap.
func (s *snapshot) clone() *snapshot {
	cp := newEmptySnapshot()
	for k, v := range s.scalars {
		cp.scalars[k] = v
	}
	for k, v := range s.enums {
		cp.enums[k] = v
	}
	for k, v := range s.propertyTypes {
		cp.propertyTypes[k] = v
	}
	for k, v := range s.deviceTypes {
		cp.deviceTypes[k] = v
	}
	for k, v := range s.services {
		cp.services[k] = v
	}
	return cp
}

// resolvePropertyValueType returns the Scalar or Enum a property type
// references, whichever its ValueClass names.
func (s *snapshot) resolvePropertyValueType(pt PropertyType) (scalar *Scalar, enum *Enum, err error) {
	switch pt.ValueClass {
	case ValueClassScalar:
		sc, ok := s.scalars[pt.ValueTypeID]
		if !ok {
			return nil, nil, fmt.Errorf("scalar type %q not found", pt.ValueTypeID)
		}
		return &sc, nil, nil
	case ValueClassEnum:
		en, ok := s.enums[pt.ValueTypeID]
		if !ok {
			return nil, nil, fmt.Errorf("enum type %q not found", pt.ValueTypeID)
		}
		return nil, &en, nil
	default:
		return nil, nil, fmt.Errorf("property %q: unknown value_type_class %q", pt.ID, pt.ValueClass)
	}
}

// validateCrossReferences checks that every reference in s resolves
// within s itself: property types reference existing value types, device
// types reference existing property types. Called before a staged
// snapshot is installed (spec §4.1: "cross-references must already
// resolve").
func (s *snapshot) validateCrossReferences() error {
	for id, pt := range s.propertyTypes {
		if _, _, err := s.resolvePropertyValueType(pt); err != nil {
			return fmt.Errorf("property type %q: %w", id, err)
		}
	}
	for id, dt := range s.deviceTypes {
		for _, propID := range dt.Properties {
			if _, ok := s.propertyTypes[propID]; !ok {
				return fmt.Errorf("device type %q: references unknown property %q", id, propID)
			}
		}
	}
	return nil
}
