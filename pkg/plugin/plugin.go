package plugin

import "alumet/internal/registry"

// Plugin is the external collaborator interface: static or dynamically
// loaded code that registers metrics and elements when the pipeline
// starts (spec.md §6). Loading itself (static registration vs. dynamic
// shared-object loading) is out of the core's scope.
type Plugin interface {
	Name() string
	Version() string
	DefaultConfig() any
	Init(cfg any) (Plugin, error)
	Start(start AlumetStart) error
	Stop() error
}

// PostPipelineStartPlugin is an optional extension: plugins that need a
// control handle once every element manager is running implement it.
type PostPipelineStartPlugin interface {
	PostPipelineStart(start AlumetPostStart) error
}

// AlumetStart is the context a Plugin.Start receives. It lets the plugin
// register metrics and add sources/transforms/outputs to the pipeline
// being built. Implemented by the builder package; declared here as an
// interface so this package never imports the control plane.
type AlumetStart interface {
	Metrics() registry.Sender
	AddSource(name string, src Source, trig TriggerSpec) error
	AddTransform(name string, t Transform) error
	AddOutput(name string, out Output) error
	AddAsyncOutput(name string, out AsyncOutput) error
}

// TriggerSpec mirrors internal/trigger.Spec without importing it, so
// plugin authors don't need to depend on the pipeline's internal packages.
// The builder converts it to a trigger.Spec.
type TriggerSpec struct {
	IntervalMillis int64
	FlushRounds    uint32
	UpdateRounds   uint32
}

// AlumetPostStart is the context passed to PostPipelineStart: a
// plugin-scoped control handle for dynamic, later reconfiguration. The
// concrete type behind ControlHandle is control.Handle (internal/pipeline/control);
// kept as `any` here to avoid an import cycle.
type AlumetPostStart interface {
	ControlHandle() any
}
