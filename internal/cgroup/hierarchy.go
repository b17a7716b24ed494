// Package cgroup implements the cgroup filesystem watcher: discovering
// cgroupfs mounts, detecting cgroup creation and removal on both v1 and
// v2 hierarchies, and reacting by materializing or tearing down sources
// through the pipeline's control plane (spec.md §4.9).
package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Version distinguishes a cgroup v1 from a cgroup v2 hierarchy. V1
// hierarchies are controller-scoped (cpu, memory, ...); v2 is unified.
type Version int

const (
	V1 Version = iota
	V2
)

func (v Version) String() string {
	if v == V2 {
		return "v2"
	}
	return "v1"
}

// Hierarchy is a single mounted cgroup hierarchy: its root path, version,
// and the controllers it manages (from the mount options for v1, from
// cgroup.controllers for v2).
type Hierarchy struct {
	Root        string
	Version     Version
	Controllers []string
}

// parseMounts reads /proc/mounts and returns every cgroup hierarchy found,
// reading v2's controller list from cgroup.controllers under the root
// (spec.md §4.9).
func parseMounts(path string) ([]Hierarchy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cgroup: opening %s: %w", path, err)
	}
	defer f.Close()

	var hierarchies []Hierarchy
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		mountPoint, fsType, opts := fields[1], fields[2], fields[3]
		switch fsType {
		case "cgroup2":
			controllers, err := readControllers(mountPoint)
			if err != nil {
				controllers = nil
			}
			hierarchies = append(hierarchies, Hierarchy{Root: mountPoint, Version: V2, Controllers: controllers})
		case "cgroup":
			hierarchies = append(hierarchies, Hierarchy{Root: mountPoint, Version: V1, Controllers: splitOpts(opts)})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cgroup: scanning %s: %w", path, err)
	}
	return hierarchies, nil
}

func readControllers(root string) ([]string, error) {
	data, err := os.ReadFile(root + "/cgroup.controllers")
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(data)), nil
}

// splitOpts extracts controller names from a v1 mount option list,
// dropping well-known non-controller flags.
func splitOpts(opts string) []string {
	var controllers []string
	for _, o := range strings.Split(opts, ",") {
		switch o {
		case "rw", "ro", "noexec", "nosuid", "nodev", "relatime", "release_agent":
			continue
		default:
			if strings.HasPrefix(o, "release_agent=") {
				continue
			}
			controllers = append(controllers, o)
		}
	}
	return controllers
}
