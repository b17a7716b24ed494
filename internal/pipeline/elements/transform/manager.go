// Package transform implements the transform runtime: a single task that
// drains the sources-to-transforms channel, applies every enabled
// transform in registration order, and broadcasts the result to every
// output (spec.md §4.6).
package transform

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"alumet/internal/broadcast"
	"alumet/internal/naming"
	"alumet/internal/registry"
	"alumet/pkg/measurement"
	"alumet/pkg/plugin"
)

// entry is one registered transform: a stable slot in registration order
// plus an independently toggleable enable bit, so disabling a transform
// never requires messaging the running task (spec.md §4.6).
type entry struct {
	name    naming.ElementName
	body    plugin.Transform
	enabled atomic.Bool
}

// Manager owns the registered transforms and runs the single task that
// applies them to every incoming buffer.
type Manager struct {
	mu      sync.RWMutex
	entries []*entry
	byName  map[naming.ElementName]*entry

	in    <-chan *measurement.Buffer
	out   *broadcast.Broadcaster
	ctx   *plugin.TransformContext
	log   *logrus.Entry

	done chan struct{}
	err  atomic.Error

	// dropped counts buffers discarded because no output was subscribed
	// at broadcast time.
	dropped atomic.Uint64
}

func NewManager(in <-chan *measurement.Buffer, out *broadcast.Broadcaster, metrics registry.Reader, log *logrus.Entry) *Manager {
	return &Manager{
		byName: make(map[naming.ElementName]*entry),
		in:     in,
		out:    out,
		ctx:    &plugin.TransformContext{Metrics: metrics},
		log:    log,
		done:   make(chan struct{}),
	}
}

// Add registers a new transform, enabled by default, appended after every
// previously registered transform.
func (m *Manager) Add(plug, element string, t plugin.Transform) (naming.ElementName, error) {
	name := naming.ElementName{Kind: naming.Transform, Plugin: plug, Element: element}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[name]; exists {
		return name, &DuplicateNameError{Name: name}
	}
	e := &entry{name: name, body: t}
	e.enabled.Store(true)
	m.entries = append(m.entries, e)
	m.byName[name] = e
	return name, nil
}

type DuplicateNameError struct{ Name naming.ElementName }

func (e *DuplicateNameError) Error() string {
	return "transform: duplicate element name " + e.Name.String()
}

// SetEnabled toggles every transform matching pattern and returns the
// number matched.
func (m *Manager) SetEnabled(pattern naming.ElementPattern, enabled bool) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if pattern.Matches(e.name) {
			e.enabled.Store(enabled)
			n++
		}
	}
	return n
}

// List returns the names of every registered transform matching filter, in
// registration order.
func (m *Manager) List(filter naming.ElementPattern) []naming.ElementName {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []naming.ElementName
	for _, e := range m.entries {
		if filter.Matches(e.name) {
			names = append(names, e.name)
		}
	}
	return names
}

func (m *Manager) logf() *logrus.Entry {
	if m.log != nil {
		return m.log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Run is the single transform task. It returns when in is closed or ctx is
// canceled, whichever comes first.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	log := m.logf()

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("transform: panic recovered")
			m.err.Store(plugin.Fatal{Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	for {
		select {
		case buf, ok := <-m.in:
			if !ok {
				return
			}
			m.apply(buf, log)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) apply(buf *measurement.Buffer, log *logrus.Entry) {
	m.mu.RLock()
	entries := m.entries
	m.mu.RUnlock()

	for _, e := range entries {
		if !e.enabled.Load() {
			continue
		}
		if err := e.body.Apply(buf, m.ctx); err != nil {
			// Transform errors are non-fatal by default (spec.md §4.6):
			// log and pass the buffer through unchanged.
			log.WithError(err).WithField("transform", e.name.String()).Warn("transform: apply failed, passing buffer through")
		}
	}

	if m.out.NumSubscribers() == 0 {
		m.dropped.Inc()
		return
	}
	m.out.Send(buf)
}

// Stats reports the running count of buffers dropped for lack of
// subscribers.
func (m *Manager) Stats() Stats {
	return Stats{DroppedBuffers: m.dropped.Load()}
}

type Stats struct {
	DroppedBuffers uint64
}

// Done reports when the transform task has exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Err returns the error the task terminated with, if any.
func (m *Manager) Err() error { return m.err.Load() }
