package cgroup

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// MountWaiter watches /proc/mounts for changes and emits every newly seen
// Hierarchy exactly once (spec.md §4.9, layer 1).
type MountWaiter struct {
	path string
	seen map[string]struct{}
}

func NewMountWaiter(path string) *MountWaiter {
	if path == "" {
		path = "/proc/mounts"
	}
	return &MountWaiter{path: path, seen: make(map[string]struct{})}
}

// Run blocks until ctx is canceled, sending every hierarchy it has not
// already emitted to out on each /proc/mounts modification. The initial
// contents of /proc/mounts are emitted immediately before the first wait.
func (w *MountWaiter) Run(ctx context.Context, out chan<- Hierarchy) error {
	if err := w.scanAndEmit(out); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.waitForChange(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := w.scanAndEmit(out); err != nil {
			return err
		}
	}
}

func (w *MountWaiter) scanAndEmit(out chan<- Hierarchy) error {
	hierarchies, err := parseMounts(w.path)
	if err != nil {
		return err
	}
	for _, h := range hierarchies {
		key := h.Root + "|" + h.Version.String()
		if _, ok := w.seen[key]; ok {
			continue
		}
		w.seen[key] = struct{}{}
		out <- h
	}
	return nil
}

// waitForChange polls path with POLLPRI|POLLERR, the standard Linux idiom
// for detecting /proc/mounts modifications, restarting on EINTR (spec.md
// §4.9: "mount wait restarts on EINTR").
func (w *MountWaiter) waitForChange(ctx context.Context) error {
	fd, err := unix.Open(w.path, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("cgroup: opening %s for poll: %w", w.path, err)
	}
	defer unix.Close(fd)

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLPRI | unix.POLLERR}}
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := unix.Poll(fds, 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("cgroup: poll %s: %w", w.path, err)
		}
		if n > 0 {
			return nil
		}
	}
}
