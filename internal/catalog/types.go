package catalog

// Access is the access mode of a property type (spec §3).
type Access string

const (
	AccessRO Access = "RO"
	AccessWO Access = "WO"
	AccessRW Access = "RW"
)

// ValueClass distinguishes which value-type table a property references.
type ValueClass string

const (
	ValueClassScalar ValueClass = "SCALAR"
	ValueClassEnum   ValueClass = "ENUM"
)

// Kind identifies which catalog table a Replace call targets (spec §4.1).
type Kind string

const (
	KindScalar   Kind = "SCALAR"
	KindEnum     Kind = "ENUM"
	KindProperty Kind = "PROPERTY"
	KindDevice   Kind = "DEVICE"
	KindService  Kind = "SERVICE"
)

// Scalar is an immutable numeric value type (spec §3).
//
// step must satisfy step > 0 && step <= (max - min); this resolves the
// first Open Question in spec.md §9 (the original source checked step
// inconsistently).
type Scalar struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Units   string  `json:"units"`
	Min     float64 `json:"min_value"`
	Max     float64 `json:"max_value"`
	Step    float64 `json:"step"`
	Default float64 `json:"default_value"`
}

// stepEpsilon absorbs float64 rounding error in the (v-min)/step grid
// check; the original Python source used an exact modulo, which fails on
// common decimal steps like 0.1. This is not a spec requirement, just a
// correctness fix carried into the rewrite.
const stepEpsilon = 1e-9

// Validate reports whether v is an admissible value for this scalar:
// min <= v <= max and v sits on the step grid from min.
func (s Scalar) Validate(v float64) bool {
	if v < s.Min || v > s.Max {
		return false
	}
	if s.Step <= 0 {
		return true
	}
	steps := (v - s.Min) / s.Step
	return nearInt(steps)
}

func nearInt(f float64) bool {
	r := f - float64(int64(f+0.5))
	if r < 0 {
		r = -r
	}
	return r <= stepEpsilon || (1-r) <= stepEpsilon
}

// Enum is an immutable labeled-choice value type (spec §3).
//
// The canonical representation, both in JSON documents and in device
// state slots, is the label (not the underlying choice value); this
// resolves the second Open Question in spec.md §9.
type Enum struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Choices      map[string]float64 `json:"choices"`
	DefaultLabel string             `json:"default_value"`
}

// Validate reports whether label is one of this enum's choices.
func (e Enum) Validate(label string) bool {
	_, ok := e.Choices[label]
	return ok
}

// PropertyType is an immutable property schema (spec §3).
type PropertyType struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Access     Access     `json:"access_mode"`
	ValueClass ValueClass `json:"value_type_class"`
	ValueTypeID string    `json:"value_type_id"`
}

// DeviceType is an immutable device schema: an ordered sequence of
// property-type references (spec §3).
type DeviceType struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Properties []string `json:"properties"`
}

// Service is mutable and reloadable (spec §3).
type Service struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	CloudRef *string `json:"core_service_ref,omitempty"`
}
