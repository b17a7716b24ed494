// Package units describes the physical units attached to a Metric: a base
// unit (watt, joule, byte, ...) combined with an optional decimal prefix.
package units

import "fmt"

// Prefix is a decimal SI prefix applied to a base unit.
type Prefix int

const (
	PrefixNone Prefix = iota
	PrefixKilo
	PrefixMega
	PrefixGiga
	PrefixMilli
	PrefixMicro
	PrefixNano
)

func (p Prefix) String() string {
	switch p {
	case PrefixKilo:
		return "k"
	case PrefixMega:
		return "M"
	case PrefixGiga:
		return "G"
	case PrefixMilli:
		return "m"
	case PrefixMicro:
		return "u"
	case PrefixNano:
		return "n"
	default:
		return ""
	}
}

// Base identifies the physical quantity a Metric value is expressed in.
type Base string

const (
	Watt        Base = "W"
	Joule       Base = "J"
	Byte        Base = "B"
	Second      Base = "s"
	Hertz       Base = "Hz"
	Percent     Base = "%"
	Celsius     Base = "degC"
	Unity       Base = "" // dimensionless counters
	Custom      Base = "custom"
)

// Unit is a base unit plus a decimal prefix, e.g. {Watt, PrefixMilli} = mW.
type Unit struct {
	Base   Base
	Prefix Prefix
	// Name is only populated when Base == Custom, e.g. "rpm".
	Name string
}

// Standard constructs a Unit with no prefix.
func Standard(b Base) Unit { return Unit{Base: b} }

// WithPrefix constructs a Unit with the given prefix.
func WithPrefix(b Base, p Prefix) Unit { return Unit{Base: b, Prefix: p} }

func (u Unit) String() string {
	if u.Base == Custom {
		return u.Name
	}
	return fmt.Sprintf("%s%s", u.Prefix, u.Base)
}

// Equal reports structural equality, used by the registry's duplicate check.
func (u Unit) Equal(other Unit) bool {
	return u.Base == other.Base && u.Prefix == other.Prefix && u.Name == other.Name
}
