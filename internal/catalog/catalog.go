package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/nerrad567/homegate-core/internal/apperrors"
)

// Logger is the logging interface used by Catalog, matching the shape
// used throughout this codebase (internal/infrastructure/logging.Logger
// satisfies it).
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

// Paths locates the four JSON documents the catalog persists to.
type Paths struct {
	ValueTypes    string // value_types.json: SCALAR_TYPES + ENUM_TYPES
	PropertyTypes string // property_types.json
	DeviceTypes   string // device_types.json
	Services      string // services.json
}

// Catalog is the immutable-at-runtime type catalog (spec §4.1). It is
// safe for concurrent use: readers dereference the current snapshot
// without locking; Replace installs a new snapshot under writeMu and
// rewrites the owning file whole.
type Catalog struct {
	paths   Paths
	logger  Logger
	current atomic.Pointer[snapshot]
	writeMu chan struct{} // 1-buffered channel used as a non-reentrant mutex
}

// New constructs an empty Catalog. Use Load to populate it from disk.
func New(paths Paths, logger Logger) *Catalog {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Catalog{paths: paths, logger: logger, writeMu: make(chan struct{}, 1)}
	c.writeMu <- struct{}{}
	c.current.Store(newEmptySnapshot())
	return c
}

// valueTypesDoc is the on-disk shape of value_types.json.
type valueTypesDoc struct {
	ScalarTypes []Scalar `json:"SCALAR_TYPES"`
	EnumTypes   []Enum   `json:"ENUM_TYPES"`
}

type propertyTypesDoc struct {
	PropertyTypes []PropertyType `json:"PROPERTY_TYPES"`
}

type deviceTypesDoc struct {
	DeviceTypes []DeviceType `json:"DEVICE_TYPES"`
}

type servicesDoc struct {
	Services []Service `json:"SERVICES"`
}

// Load reads all four documents from disk, builds one snapshot, validates
// its cross-references, and installs it. Duplicate ids within a document
// are overwritten with a logged warning (spec §4.1).
func (c *Catalog) Load() error {
	snap := newEmptySnapshot()

	var vt valueTypesDoc
	if err := readJSONFile(c.paths.ValueTypes, &vt); err != nil {
		return fmt.Errorf("loading value types: %w", err)
	}
	for _, s := range vt.ScalarTypes {
		if _, dup := snap.scalars[s.ID]; dup {
			c.logger.Warn("duplicate scalar type id overwritten", "id", s.ID)
		}
		snap.scalars[s.ID] = s
	}
	for _, e := range vt.EnumTypes {
		if _, dup := snap.enums[e.ID]; dup {
			c.logger.Warn("duplicate enum type id overwritten", "id", e.ID)
		}
		snap.enums[e.ID] = e
	}

	var pt propertyTypesDoc
	if err := readJSONFile(c.paths.PropertyTypes, &pt); err != nil {
		return fmt.Errorf("loading property types: %w", err)
	}
	for _, p := range pt.PropertyTypes {
		if _, dup := snap.propertyTypes[p.ID]; dup {
			c.logger.Warn("duplicate property type id overwritten", "id", p.ID)
		}
		snap.propertyTypes[p.ID] = p
	}

	var dt deviceTypesDoc
	if err := readJSONFile(c.paths.DeviceTypes, &dt); err != nil {
		return fmt.Errorf("loading device types: %w", err)
	}
	for _, d := range dt.DeviceTypes {
		if _, dup := snap.deviceTypes[d.ID]; dup {
			c.logger.Warn("duplicate device type id overwritten", "id", d.ID)
		}
		snap.deviceTypes[d.ID] = d
	}

	var sv servicesDoc
	if err := readJSONFile(c.paths.Services, &sv); err != nil {
		return fmt.Errorf("loading services: %w", err)
	}
	for _, s := range sv.Services {
		if _, dup := snap.services[s.ID]; dup {
			c.logger.Warn("duplicate service id overwritten", "id", s.ID)
		}
		snap.services[s.ID] = s
	}

	if err := snap.validateCrossReferences(); err != nil {
		return fmt.Errorf("catalog cross-reference check failed: %w", err)
	}

	c.current.Store(snap)
	c.logger.Info("catalog loaded",
		"scalars", len(snap.scalars),
		"enums", len(snap.enums),
		"property_types", len(snap.propertyTypes),
		"device_types", len(snap.deviceTypes),
		"services", len(snap.services),
	)
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// snap returns the currently installed snapshot.
func (c *Catalog) snap() *snapshot {
	return c.current.Load()
}

// ValidateDeviceType reports whether id names a known device type.
func (c *Catalog) ValidateDeviceType(id string) bool {
	_, ok := c.snap().deviceTypes[id]
	return ok
}

// ValidateServices reports whether every id in ids names a known
// service.
func (c *Catalog) ValidateServices(ids []string) bool {
	snap := c.snap()
	for _, id := range ids {
		if _, ok := snap.services[id]; !ok {
			return false
		}
	}
	return true
}

// FilterKnownServices returns the subset of ids that currently name a
// known service, dropping stale members (spec invariant I5).
func (c *Catalog) FilterKnownServices(ids []string) []string {
	snap := c.snap()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := snap.services[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// PropertyType returns the property type named id, or UnknownType.
func (c *Catalog) PropertyType(id string) (PropertyType, error) {
	pt, ok := c.snap().propertyTypes[id]
	if !ok {
		return PropertyType{}, apperrors.Newf(apperrors.UnknownType, "unknown property type %q", id)
	}
	return pt, nil
}

// DeviceType returns the device type named id, or UnknownType.
func (c *Catalog) DeviceType(id string) (DeviceType, error) {
	dt, ok := c.snap().deviceTypes[id]
	if !ok {
		return DeviceType{}, apperrors.Newf(apperrors.UnknownType, "unknown device type %q", id)
	}
	return dt, nil
}

// Service returns the service named id, or UnknownType.
func (c *Catalog) Service(id string) (Service, error) {
	sv, ok := c.snap().services[id]
	if !ok {
		return Service{}, apperrors.Newf(apperrors.UnknownType, "unknown service %q", id)
	}
	return sv, nil
}

// AllServices returns a snapshot copy of every registered service.
func (c *Catalog) AllServices() []Service {
	snap := c.snap()
	out := make([]Service, 0, len(snap.services))
	for _, s := range snap.services {
		out = append(out, s)
	}
	return out
}

// Export marshals the current set of records for kind, in the shape
// /configs?type=... returns them (spec §4.4).
func (c *Catalog) Export(kind Kind) (json.RawMessage, error) {
	snap := c.snap()
	switch kind {
	case KindScalar:
		return json.Marshal(mapValues(snap.scalars))
	case KindEnum:
		return json.Marshal(mapValues(snap.enums))
	case KindProperty:
		return json.Marshal(mapValues(snap.propertyTypes))
	case KindDevice:
		return json.Marshal(mapValues(snap.deviceTypes))
	case KindService:
		return json.Marshal(mapValues(snap.services))
	default:
		return nil, apperrors.Newf(apperrors.Malformed, "unknown catalog kind %q", kind)
	}
}

// ExportAll marshals the scalar, enum, property-type and device-type
// tables, keyed the way their on-disk documents key them, for a typeless
// GET /configs. The services table is not included.
func (c *Catalog) ExportAll() json.RawMessage {
	snap := c.snap()
	doc := struct {
		ScalarTypes   []Scalar       `json:"SCALAR_TYPES"`
		EnumTypes     []Enum         `json:"ENUM_TYPES"`
		PropertyTypes []PropertyType `json:"PROPERTY_TYPES"`
		DeviceTypes   []DeviceType   `json:"DEVICE_TYPES"`
	}{
		ScalarTypes:   mapValues(snap.scalars),
		EnumTypes:     mapValues(snap.enums),
		PropertyTypes: mapValues(snap.propertyTypes),
		DeviceTypes:   mapValues(snap.deviceTypes),
	}
	data, _ := json.Marshal(doc)
	return data
}

// KindFromConfigType maps the /configs query parameter's spelling
// (SCALAR_TYPES, ENUM_TYPES, PROPERTY_TYPES, DEVICE_TYPES) to a Kind.
func KindFromConfigType(t string) (Kind, error) {
	switch t {
	case "SCALAR_TYPES":
		return KindScalar, nil
	case "ENUM_TYPES":
		return KindEnum, nil
	case "PROPERTY_TYPES":
		return KindProperty, nil
	case "DEVICE_TYPES":
		return KindDevice, nil
	default:
		return "", apperrors.Newf(apperrors.BadRequest, "unknown config type %q", t)
	}
}

// ValidateValue validates v against the property named propertyID and
// returns its canonical form: float64 for a scalar, string (the label)
// for an enum.
func (c *Catalog) ValidateValue(propertyID string, v any) (canonical any, err error) {
	pt, err := c.PropertyType(propertyID)
	if err != nil {
		return nil, err
	}
	snap := c.snap()
	scalar, enum, err := snap.resolvePropertyValueType(pt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.UnknownType, err, "resolving value type")
	}

	switch {
	case scalar != nil:
		f, ok := asFloat(v)
		if !ok {
			return nil, apperrors.Newf(apperrors.BadRequest, "property %q expects a number", propertyID)
		}
		if !scalar.Validate(f) {
			return nil, apperrors.Newf(apperrors.BadRequest, "property %q: value %v out of range/step for %q", propertyID, v, scalar.ID)
		}
		return f, nil
	case enum != nil:
		label, ok := v.(string)
		if !ok {
			return nil, apperrors.Newf(apperrors.BadRequest, "property %q expects a string label", propertyID)
		}
		if !enum.Validate(label) {
			return nil, apperrors.Newf(apperrors.BadRequest, "property %q: label %q not in choices for %q", propertyID, label, enum.ID)
		}
		return label, nil
	default:
		return nil, apperrors.Newf(apperrors.Internal, "property %q: no value type resolved", propertyID)
	}
}

// DefaultValue returns the canonical default for the given property.
func (c *Catalog) DefaultValue(propertyID string) (any, error) {
	pt, err := c.PropertyType(propertyID)
	if err != nil {
		return nil, err
	}
	snap := c.snap()
	scalar, enum, err := snap.resolvePropertyValueType(pt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.UnknownType, err, "resolving value type")
	}
	if scalar != nil {
		return scalar.Default, nil
	}
	return enum.DefaultLabel, nil
}

// Access returns the access mode of the given property.
func (c *Catalog) Access(propertyID string) (Access, error) {
	pt, err := c.PropertyType(propertyID)
	if err != nil {
		return "", err
	}
	return pt.Access, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Replace installs a new set of records for kind, validating well-
// formedness and that cross-references resolve against the resulting
// snapshot, then persists the owning file whole (spec §4.1). The replace
// is all-or-nothing: on any failure the live snapshot and on-disk file
// are left untouched.
func (c *Catalog) Replace(kind Kind, raw json.RawMessage) error {
	<-c.writeMu
	defer func() { c.writeMu <- struct{}{} }()

	staged := c.snap().clone()

	switch kind {
	case KindScalar:
		var list []Scalar
		if err := json.Unmarshal(raw, &list); err != nil {
			return apperrors.Wrap(apperrors.Malformed, err, "decoding scalar types")
		}
		if err := validateScalars(list); err != nil {
			return err
		}
		staged.scalars = indexByID(list, func(s Scalar) string { return s.ID })
	case KindEnum:
		var list []Enum
		if err := json.Unmarshal(raw, &list); err != nil {
			return apperrors.Wrap(apperrors.Malformed, err, "decoding enum types")
		}
		if err := validateEnums(list); err != nil {
			return err
		}
		staged.enums = indexByID(list, func(e Enum) string { return e.ID })
	case KindProperty:
		var list []PropertyType
		if err := json.Unmarshal(raw, &list); err != nil {
			return apperrors.Wrap(apperrors.Malformed, err, "decoding property types")
		}
		staged.propertyTypes = indexByID(list, func(p PropertyType) string { return p.ID })
	case KindDevice:
		var list []DeviceType
		if err := json.Unmarshal(raw, &list); err != nil {
			return apperrors.Wrap(apperrors.Malformed, err, "decoding device types")
		}
		staged.deviceTypes = indexByID(list, func(d DeviceType) string { return d.ID })
	case KindService:
		var list []Service
		if err := json.Unmarshal(raw, &list); err != nil {
			return apperrors.Wrap(apperrors.Malformed, err, "decoding services")
		}
		staged.services = indexByID(list, func(s Service) string { return s.ID })
	default:
		return apperrors.Newf(apperrors.Malformed, "unknown catalog kind %q", kind)
	}

	if err := staged.validateCrossReferences(); err != nil {
		return apperrors.Wrap(apperrors.Malformed, err, "cross-reference check failed")
	}

	if err := c.persist(kind, staged); err != nil {
		return apperrors.Wrap(apperrors.Internal, err, "persisting catalog")
	}

	c.current.Store(staged)
	c.logger.Info("catalog replaced", "kind", kind)
	return nil
}

func indexByID[T any](list []T, id func(T) string) map[string]T {
	m := make(map[string]T, len(list))
	for _, v := range list {
		m[id(v)] = v
	}
	return m
}

func validateScalars(list []Scalar) error {
	for _, s := range list {
		if s.ID == "" || s.Name == "" {
			return apperrors.New(apperrors.Malformed, "scalar type missing id/name")
		}
		if s.Min > s.Max {
			return apperrors.Newf(apperrors.Malformed, "scalar %q: min_value > max_value", s.ID)
		}
		if s.Step <= 0 || s.Step > s.Max-s.Min {
			return apperrors.Newf(apperrors.Malformed, "scalar %q: step must be > 0 and <= (max-min)", s.ID)
		}
		if !s.Validate(s.Default) {
			return apperrors.Newf(apperrors.Malformed, "scalar %q: default_value fails its own validation", s.ID)
		}
	}
	return nil
}

func validateEnums(list []Enum) error {
	for _, e := range list {
		if e.ID == "" || e.Name == "" {
			return apperrors.New(apperrors.Malformed, "enum type missing id/name")
		}
		if len(e.Choices) == 0 {
			return apperrors.Newf(apperrors.Malformed, "enum %q: choices must not be empty", e.ID)
		}
		if !e.Validate(e.DefaultLabel) {
			return apperrors.Newf(apperrors.Malformed, "enum %q: default_value %q not in choices", e.ID, e.DefaultLabel)
		}
	}
	return nil
}

// persist rewrites the single on-disk document that owns kind, in full,
// via a temp-file-then-rename so a crash mid-write never leaves a
// partially-written document (spec §4.1: "whole-file replace-write, no
// partial updates").
func (c *Catalog) persist(kind Kind, snap *snapshot) error {
	switch kind {
	case KindScalar, KindEnum:
		doc := valueTypesDoc{
			ScalarTypes: mapValues(snap.scalars),
			EnumTypes:   mapValues(snap.enums),
		}
		return writeJSONFileAtomic(c.paths.ValueTypes, doc)
	case KindProperty:
		return writeJSONFileAtomic(c.paths.PropertyTypes, propertyTypesDoc{PropertyTypes: mapValues(snap.propertyTypes)})
	case KindDevice:
		return writeJSONFileAtomic(c.paths.DeviceTypes, deviceTypesDoc{DeviceTypes: mapValues(snap.deviceTypes)})
	case KindService:
		return writeJSONFileAtomic(c.paths.Services, servicesDoc{Services: mapValues(snap.services)})
	default:
		return fmt.Errorf("unknown catalog kind %q", kind)
	}
}

func mapValues[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func writeJSONFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".catalog-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
