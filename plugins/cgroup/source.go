package cgroup

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"alumet/internal/counter"
	"alumet/pkg/measurement"
	"alumet/pkg/resources"
)

// cgroupSource polls one cgroup's cpu.stat and memory.current files, the
// way the v2 collector in ja7ad/consumption's pkg/system/proc reads them,
// differencing the monotonic CPU usage counter between ticks.
type cgroupSource struct {
	path        string
	version     string
	resource    resources.ControlGroup
	cpuMetric   measurement.RawMetricId
	memMetric   measurement.RawMetricId
	cpuUsecDiff *counter.Diff
}

func newCgroupSource(path, version string, cpuMetric, memMetric measurement.RawMetricId) *cgroupSource {
	return &cgroupSource{
		path:      path,
		version:   version,
		resource:  resources.ControlGroup{Path: path},
		cpuMetric: cpuMetric,
		memMetric: memMetric,
		// usage_usec is a 64-bit microsecond counter; a wrap within one
		// agent run is not a realistic concern, but differencing still
		// needs a maxValue for the overflow-correction math.
		cpuUsecDiff: counter.New(^uint64(0)),
	}
}

// Reset clears the CPU counter baseline so a paused-then-resumed source
// does not report a bogus delta spanning the pause (spec.md §4.5 step 3).
func (s *cgroupSource) Reset() {
	s.cpuUsecDiff = counter.New(^uint64(0))
}

func (s *cgroupSource) Poll(acc *measurement.Accumulator, t time.Time) error {
	usec, divisor, err := s.readCPUUsage()
	if err == nil {
		switch u := s.cpuUsecDiff.Update(usec); u.Kind {
		case counter.Difference, counter.CorrectedDifference:
			seconds := float64(u.Delta) / divisor
			acc.Push(measurement.NewPoint(t, s.cpuMetric, s.resource, nil, measurement.F64Value(seconds)))
		}
	}

	if bytes, err := readMemoryCurrent(memoryCurrentPath(s.path, s.version)); err == nil {
		acc.Push(measurement.NewPoint(t, s.memMetric, s.resource, nil, measurement.U64Value(bytes)))
	}

	return nil
}

// readCPUUsage returns the cumulative CPU time counter for this cgroup and
// the divisor that turns it into seconds: v2's cpu.stat reports usage_usec
// (microseconds), v1's cpuacct.usage reports nanoseconds.
func (s *cgroupSource) readCPUUsage() (value uint64, divisor float64, err error) {
	if s.version == "v1" {
		data, err := os.ReadFile(filepath.Join(s.path, "cpuacct.usage"))
		if err != nil {
			return 0, 0, err
		}
		v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		return v, 1e9, err
	}
	v, err := readCPUUsageUsec(filepath.Join(s.path, "cpu.stat"))
	return v, 1e6, err
}

func memoryCurrentPath(path, version string) string {
	if version == "v1" {
		return filepath.Join(path, "memory.usage_in_bytes")
	}
	return filepath.Join(path, "memory.current")
}

// readCPUUsageUsec parses cpu.stat (v2) and returns usage_usec.
func readCPUUsageUsec(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 2 && fields[0] == "usage_usec" {
			return strconv.ParseUint(fields[1], 10, 64)
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("cgroup: usage_usec not found in " + path)
}

// readMemoryCurrent parses the single-integer memory.current (v2) or
// memory.usage_in_bytes (v1) file.
func readMemoryCurrent(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}
