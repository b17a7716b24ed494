package cgroup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultV1RefreshInterval is how often DetectorV1 rescans a hierarchy
// when the filesystem provides no change notifications (spec.md §4.9).
const DefaultV1RefreshInterval = 5 * time.Second

// DetectorV1 periodically scans a v1 hierarchy's immediate subdirectories
// and diffs against the previous scan, since v1 cgroupfs does not support
// filesystem notifications.
type DetectorV1 struct {
	hierarchy Hierarchy
	interval  time.Duration
	log       *logrus.Entry
}

func NewDetectorV1(h Hierarchy, interval time.Duration, log *logrus.Entry) *DetectorV1 {
	if interval <= 0 {
		interval = DefaultV1RefreshInterval
	}
	return &DetectorV1{hierarchy: h, interval: interval, log: log}
}

func (d *DetectorV1) logf() *logrus.Entry {
	if d.log != nil {
		return d.log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Run scans d.hierarchy.Root every interval until ctx is canceled,
// sending one Event per directory added or removed since the previous
// scan.
func (d *DetectorV1) Run(ctx context.Context, out chan<- Event) error {
	prev, err := d.scan()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur, err := d.scan()
			if err != nil {
				d.logf().WithError(err).Warn("cgroup: v1 rescan failed")
				continue
			}
			for path := range cur {
				if _, ok := prev[path]; !ok {
					out <- Event{Hierarchy: d.hierarchy, Path: path, Created: true}
				}
			}
			for path := range prev {
				if _, ok := cur[path]; !ok {
					out <- Event{Hierarchy: d.hierarchy, Path: path, Created: false}
				}
			}
			prev = cur
		}
	}
}

func (d *DetectorV1) scan() (map[string]struct{}, error) {
	entries, err := os.ReadDir(d.hierarchy.Root)
	if err != nil {
		return nil, err
	}
	cur := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cur[filepath.Join(d.hierarchy.Root, e.Name())] = struct{}{}
	}
	return cur, nil
}
