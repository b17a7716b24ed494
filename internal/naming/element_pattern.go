package naming

import "fmt"

// ElementPattern matches an ElementName: an optional kind restriction plus
// a plugin and an element StringPattern. A nil Kind matches any kind.
type ElementPattern struct {
	Kind    *Kind
	Plugin  StringPattern
	Element StringPattern
}

// Matches reports whether the pattern matches the given name, per the
// bit-exact rule in spec.md §4.3.
func (p ElementPattern) Matches(name ElementName) bool {
	if p.Kind != nil && *p.Kind != name.Kind {
		return false
	}
	plugin := p.Plugin
	if plugin == nil {
		plugin = Any{}
	}
	elem := p.Element
	if elem == nil {
		elem = Any{}
	}
	return plugin.Match(name.Plugin) && elem.Match(name.Element)
}

// IncompatibleKindError is returned when converting a generic
// ElementPattern to a typed pattern whose kind does not match.
type IncompatibleKindError struct {
	Want Kind
	Have Kind
}

func (e *IncompatibleKindError) Error() string {
	return fmt.Sprintf("naming: pattern kind %s is incompatible with %s", e.Have, e.Want)
}

func kindPtr(k Kind) *Kind { return &k }

// SourceNamePattern is an ElementPattern whose Kind is fixed to Source.
type SourceNamePattern struct{ ElementPattern }

func NewSourceNamePattern(plugin, element StringPattern) SourceNamePattern {
	k := Source
	return SourceNamePattern{ElementPattern{Kind: &k, Plugin: plugin, Element: element}}
}

// AsSourceNamePattern converts a generic pattern, failing if its kind is
// set and is not Source.
func AsSourceNamePattern(p ElementPattern) (SourceNamePattern, error) {
	if p.Kind != nil && *p.Kind != Source {
		return SourceNamePattern{}, &IncompatibleKindError{Want: Source, Have: *p.Kind}
	}
	p.Kind = kindPtr(Source)
	return SourceNamePattern{p}, nil
}

// TransformNamePattern is an ElementPattern whose Kind is fixed to Transform.
type TransformNamePattern struct{ ElementPattern }

func NewTransformNamePattern(plugin, element StringPattern) TransformNamePattern {
	k := Transform
	return TransformNamePattern{ElementPattern{Kind: &k, Plugin: plugin, Element: element}}
}

func AsTransformNamePattern(p ElementPattern) (TransformNamePattern, error) {
	if p.Kind != nil && *p.Kind != Transform {
		return TransformNamePattern{}, &IncompatibleKindError{Want: Transform, Have: *p.Kind}
	}
	p.Kind = kindPtr(Transform)
	return TransformNamePattern{p}, nil
}

// OutputNamePattern is an ElementPattern whose Kind is fixed to Output.
type OutputNamePattern struct{ ElementPattern }

func NewOutputNamePattern(plugin, element StringPattern) OutputNamePattern {
	k := Output
	return OutputNamePattern{ElementPattern{Kind: &k, Plugin: plugin, Element: element}}
}

func AsOutputNamePattern(p ElementPattern) (OutputNamePattern, error) {
	if p.Kind != nil && *p.Kind != Output {
		return OutputNamePattern{}, &IncompatibleKindError{Want: Output, Have: *p.Kind}
	}
	p.Kind = kindPtr(Output)
	return OutputNamePattern{p}, nil
}
