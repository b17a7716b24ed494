package cgroup

import "path/filepath"

// Cgroup identifies one live cgroup directory within a hierarchy.
type Cgroup struct {
	Hierarchy Hierarchy
	Path      string
}

// UniqueName derives a stable element name component from the cgroup's
// path, used by the reactor's setup callback when naming the source it
// creates (spec.md §4.3, §4.9).
func (c Cgroup) UniqueName() string {
	return c.Hierarchy.Version.String() + "-" + filepath.Base(c.Path)
}
