package measurement

import (
	"time"

	"alumet/pkg/resources"
)

// Value holds either an F64 or a U64 measurement value; Type reports which.
type Value struct {
	Type ValueType
	f64  float64
	u64  uint64
}

func F64Value(v float64) Value { return Value{Type: F64, f64: v} }
func U64Value(v uint64) Value  { return Value{Type: U64, u64: v} }

// F64 returns the value as float64, converting from U64 if necessary.
func (v Value) F64() float64 {
	if v.Type == U64 {
		return float64(v.u64)
	}
	return v.f64
}

// U64 returns the value as uint64, truncating from F64 if necessary.
func (v Value) U64() uint64 {
	if v.Type == F64 {
		return uint64(v.f64)
	}
	return v.u64
}

// Point is a single sample produced by a source. Once pushed into an
// Accumulator it is considered immutable; transforms clone and replace
// points rather than mutating them in place.
type Point struct {
	Timestamp time.Time
	Metric    RawMetricId
	Resource  resources.Resource
	Consumer  resources.ResourceConsumer
	Value     Value
	Attributes map[string]AttrValue
}

// NewPoint builds a Point with no attributes; use WithAttr to add some.
func NewPoint(t time.Time, metric RawMetricId, res resources.Resource, consumer resources.ResourceConsumer, value Value) Point {
	return Point{
		Timestamp: t,
		Metric:    metric,
		Resource:  res,
		Consumer:  consumer,
		Value:     value,
	}
}

// WithAttr returns a copy of p with the given attribute set. Intended for
// building a point in one expression; it still copies the map, so callers
// on a hot path should prefer setting Attributes directly.
func (p Point) WithAttr(key string, value AttrValue) Point {
	attrs := make(map[string]AttrValue, len(p.Attributes)+1)
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	p.Attributes = attrs
	return p
}
