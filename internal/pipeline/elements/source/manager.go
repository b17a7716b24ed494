package source

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"alumet/internal/naming"
	"alumet/internal/trigger"
	"alumet/pkg/measurement"
	"alumet/pkg/plugin"
)

// Manager owns every live source task and the name generator sources are
// assigned from, mirroring the per-kind element manager in spec.md §4.8.
type Manager struct {
	mu    sync.RWMutex
	tasks map[naming.ElementName]*Task

	gen          *naming.Generator
	constraints  trigger.Constraints
	pauseTimeout time.Duration
	out          chan<- *measurement.Buffer
	log          *logrus.Entry

	wg conc.WaitGroup
}

func NewManager(out chan<- *measurement.Buffer, constraints trigger.Constraints, pauseTimeout time.Duration, log *logrus.Entry) *Manager {
	return &Manager{
		tasks:        make(map[naming.ElementName]*Task),
		gen:          naming.NewGenerator(),
		constraints:  constraints,
		pauseTimeout: pauseTimeout,
		out:          out,
		log:          log,
	}
}

// Create builds and starts a new source task under plugin/element and
// returns the name it was assigned. ctx is the pipeline-wide shutdown
// context; the task stops cooperatively when ctx is canceled or its
// state transitions to Stop.
func (m *Manager) Create(ctx context.Context, plug, element string, src plugin.Source, spec trigger.Spec, initialState TaskState) (naming.ElementName, error) {
	name := naming.ElementName{Kind: naming.Source, Plugin: plug, Element: element}

	m.mu.Lock()
	if _, exists := m.tasks[name]; exists {
		m.mu.Unlock()
		return name, &DuplicateNameError{Name: name}
	}
	task, err := NewTask(Config{
		Name:         name,
		Source:       src,
		Trigger:      spec,
		Constraints:  m.constraints,
		Out:          m.out,
		PauseTimeout: m.pauseTimeout,
		Log:          m.log,
	}, initialState)
	if err != nil {
		m.mu.Unlock()
		return name, err
	}
	m.tasks[name] = task
	m.mu.Unlock()

	m.wg.Go(func() { task.Run(ctx) })
	return name, nil
}

// GenerateElementName produces the next "{prefix}-{n}" element name for a
// plugin that didn't request a specific one.
func (m *Manager) GenerateElementName(prefix string) string {
	return m.gen.Generate(prefix)
}

// DuplicateNameError is returned by Create when the (plugin, element)
// pair is already in use.
type DuplicateNameError struct{ Name naming.ElementName }

func (e *DuplicateNameError) Error() string {
	return "source: duplicate element name " + e.Name.String()
}

// SetState applies state to every source matching pattern and returns the
// number matched.
func (m *Manager) SetState(pattern naming.ElementPattern, state TaskState) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for name, task := range m.tasks {
		if pattern.Matches(name) {
			task.Cell().SetState(state)
			n++
		}
	}
	return n
}

// SetTrigger queues a trigger update for every source matching pattern.
func (m *Manager) SetTrigger(pattern naming.ElementPattern, spec trigger.Spec) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for name, task := range m.tasks {
		if pattern.Matches(name) {
			task.Cell().SetTrigger(spec)
			n++
		}
	}
	return n
}

// List returns the names of every live source matching filter.
func (m *Manager) List(filter naming.ElementPattern) []naming.ElementName {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []naming.ElementName
	for name := range m.tasks {
		if filter.Matches(name) {
			out = append(out, name)
		}
	}
	return out
}

// Stats aggregates the backpressure and poll-error counters across every
// live source task.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Stats
	for _, t := range m.tasks {
		s.BlockingSends += t.BlockingSends.Load()
		s.PollErrors += t.PollErrors.Load()
	}
	return s
}

type Stats struct {
	BlockingSends uint64
	PollErrors    uint64
}

// Shutdown transitions every source to Stop and waits for all tasks to
// exit, returning every recorded task error combined with multierr (nil
// if there is none). It also
// returns once ctx is canceled even if some tasks are still draining,
// matching the "per-call timeout" contract of the control plane.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		t.Cell().SetState(Stop)
		tasks = append(tasks, t)
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	var combined error
	for _, t := range tasks {
		combined = multierr.Append(combined, t.Err())
	}
	return combined
}
