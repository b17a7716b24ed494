package cgroup

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Event reports a cgroup appearing or disappearing under a hierarchy.
type Event struct {
	Hierarchy Hierarchy
	Path      string
	Created   bool
}

// DetectorV2 watches a v2 hierarchy for directory create/remove events.
// fsnotify is not natively recursive, so every Create event that is a
// directory gets its own new watch, functionally mirroring the recursive
// notification spec.md §4.9 describes.
type DetectorV2 struct {
	hierarchy Hierarchy
	log       *logrus.Entry
}

func NewDetectorV2(h Hierarchy, log *logrus.Entry) *DetectorV2 {
	return &DetectorV2{hierarchy: h, log: log}
}

func (d *DetectorV2) logf() *logrus.Entry {
	if d.log != nil {
		return d.log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Run watches the hierarchy root (and every directory discovered under
// it) until ctx is canceled, sending one Event per cgroup creation or
// removal.
func (d *DetectorV2) Run(ctx context.Context, out chan<- Event) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := d.addTreeRecursively(w, d.hierarchy.Root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			d.handleEvent(w, ev, out)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.logf().WithError(err).Warn("cgroup: v2 watcher error")
		}
	}
}

func (d *DetectorV2) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event, out chan<- Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		info, err := os.Stat(ev.Name)
		if err != nil || !info.IsDir() {
			return
		}
		if err := w.Add(ev.Name); err != nil {
			d.logf().WithError(err).WithField("path", ev.Name).Warn("cgroup: failed to watch new directory")
		}
		out <- Event{Hierarchy: d.hierarchy, Path: ev.Name, Created: true}
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		out <- Event{Hierarchy: d.hierarchy, Path: ev.Name, Created: false}
	}
}

func (d *DetectorV2) addTreeRecursively(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			_ = w.Add(path)
		}
		return nil
	})
}
