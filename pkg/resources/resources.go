// Package resources defines the Resource and ResourceConsumer value objects:
// what is being measured, and who consumes it.
package resources

import "fmt"

// Resource identifies what a measurement is about.
type Resource interface {
	Kind() string
	// IDString returns a display form of the resource's identifier, or
	// ("", false) for resources that have none (LocalMachine).
	IDString() (string, bool)
}

// ResourceConsumer identifies who is consuming the measured resource.
// It has the same method set as Resource, so any Resource value also
// satisfies ResourceConsumer (and vice versa); the separate name only
// documents the role at call sites.
type ResourceConsumer interface {
	Resource
}

type LocalMachine struct{}

func (LocalMachine) Kind() string                { return "local_machine" }
func (LocalMachine) IDString() (string, bool)     { return "", false }

type CpuPackage struct{ ID uint }

func (r CpuPackage) Kind() string            { return "cpu_package" }
func (r CpuPackage) IDString() (string, bool) { return fmt.Sprintf("%d", r.ID), true }

type CpuCore struct{ ID uint }

func (r CpuCore) Kind() string            { return "cpu_core" }
func (r CpuCore) IDString() (string, bool) { return fmt.Sprintf("%d", r.ID), true }

type Dram struct{ PackageID uint }

func (r Dram) Kind() string            { return "dram" }
func (r Dram) IDString() (string, bool) { return fmt.Sprintf("%d", r.PackageID), true }

type Gpu struct{ BusID string }

func (r Gpu) Kind() string            { return "gpu" }
func (r Gpu) IDString() (string, bool) { return r.BusID, true }

type Process struct{ PID uint32 }

func (r Process) Kind() string            { return "process" }
func (r Process) IDString() (string, bool) { return fmt.Sprintf("%d", r.PID), true }

// ControlGroup identifies a cgroup by its directory path; the cgroup
// plugin sets it to the absolute path the detectors report.
type ControlGroup struct{ Path string }

func (r ControlGroup) Kind() string            { return "control_group" }
func (r ControlGroup) IDString() (string, bool) { return r.Path, true }

// Custom is the escape hatch for resources not covered by the above.
type Custom struct {
	KindName string
	ID       string
}

func (r Custom) Kind() string            { return r.KindName }
func (r Custom) IDString() (string, bool) { return r.ID, r.ID != "" }

// Equal reports whether two resources (or consumers) are structurally
// identical. Both must be comparable concrete types.
func Equal(a, b Resource) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a == b
}
