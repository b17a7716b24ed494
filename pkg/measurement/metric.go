// Package measurement defines the Metric descriptor and the point/buffer
// types exchanged between pipeline stages.
package measurement

import "alumet/pkg/units"

// ValueType is the value type a Metric was registered with.
type ValueType int

const (
	F64 ValueType = iota
	U64
)

func (t ValueType) String() string {
	if t == U64 {
		return "u64"
	}
	return "f64"
}

// RawMetricId is an opaque, stable identifier assigned by the registry on
// successful registration. It never changes for the life of the agent.
type RawMetricId uint64

// TypedMetricId binds a RawMetricId to a compile-time value type, the way
// typed producers use it to avoid pushing a mismatched value variant.
type TypedMetricId[T float64 | uint64] struct {
	id RawMetricId
}

// NewTypedMetricId wraps a raw id as is; it does not consult the registry
// or check that the metric's value type matches T.
func NewTypedMetricId[T float64 | uint64](id RawMetricId) TypedMetricId[T] {
	return TypedMetricId[T]{id: id}
}

func (t TypedMetricId[T]) Raw() RawMetricId { return t.id }

// Metric is the immutable descriptor for a measured quantity.
type Metric struct {
	Name        string
	Description string
	ValueType   ValueType
	Unit        units.Unit
}

// Equal reports whether two metrics have the same name, value type and
// unit — the condition the registry uses to decide idempotent
// re-registration vs. a conflicting duplicate (spec.md §4.4).
func (m Metric) Equal(other Metric) bool {
	return m.Name == other.Name && m.ValueType == other.ValueType && m.Unit.Equal(other.Unit)
}
