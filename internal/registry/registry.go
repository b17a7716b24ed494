// Package registry implements the online, thread-safe metric registry:
// RawMetricId -> Metric, with dedup-on-register and a cheap read-mostly
// snapshot for concurrent readers (spec.md §4.4).
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"alumet/pkg/measurement"
)

// DuplicateStrategy controls CreateMetrics' behavior when a metric in the
// batch collides with an already-registered name.
type DuplicateStrategy struct {
	Kind   DuplicateKind
	Suffix string // only used by Rename
}

type DuplicateKind int

const (
	DuplicateFail DuplicateKind = iota
	DuplicateRename
	DuplicateUseExisting
)

// DuplicateError is returned by Register when name collides with a
// different value_type or unit.
type DuplicateError struct {
	Name     string
	Existing measurement.Metric
	Attempt  measurement.Metric
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("registry: metric %q already registered with a conflicting descriptor", e.Name)
}

type snapshot struct {
	byID   map[measurement.RawMetricId]measurement.Metric
	byName map[string]measurement.RawMetricId
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byID:   make(map[measurement.RawMetricId]measurement.Metric),
		byName: make(map[string]measurement.RawMetricId),
	}
}

func (s *snapshot) clone() *snapshot {
	n := &snapshot{
		byID:   make(map[measurement.RawMetricId]measurement.Metric, len(s.byID)+1),
		byName: make(map[string]measurement.RawMetricId, len(s.byName)+1),
	}
	for k, v := range s.byID {
		n.byID[k] = v
	}
	for k, v := range s.byName {
		n.byName[k] = v
	}
	return n
}

// Registry is the process-wide catalog of metric descriptors. Writers
// serialize through mu; readers take an atomically-swapped pointer to an
// immutable snapshot, so reads never block on writes (spec.md §4.4, §5).
type Registry struct {
	mu      sync.Mutex // serializes writers only
	current atomic.Pointer[snapshot]
	nextID  atomic.Uint64

	listenersMu sync.Mutex
	listeners   []chan measurement.Metric

	log *logrus.Entry
}

func New(log *logrus.Entry) *Registry {
	r := &Registry{log: log}
	r.current.Store(emptySnapshot())
	return r
}

// Reader returns a cheap, cloneable read-only snapshot handle.
func (r *Registry) Reader() Reader { return Reader{r: r} }

// Sender returns the writer-side handle used by late registrations from
// running plugins.
func (r *Registry) Sender() Sender { return Sender{r: r} }

// Subscribe registers a listener that receives every newly registered
// metric. The channel is buffered; if it fills, further notifications to
// that listener are dropped and logged (best-effort broadcast, matching
// the rest of the pipeline's backpressure philosophy).
func (r *Registry) Subscribe(bufSize int) <-chan measurement.Metric {
	ch := make(chan measurement.Metric, bufSize)
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, ch)
	r.listenersMu.Unlock()
	return ch
}

func (r *Registry) broadcast(m measurement.Metric) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	for _, ch := range r.listeners {
		select {
		case ch <- m:
		default:
			if r.log != nil {
				r.log.WithField("metric", m.Name).Warn("metric registry listener is full, dropping notification")
			}
		}
	}
}

// Register adds metric if its name is unused, returns the existing id if
// metric is identical to what's already registered (idempotent), and
// fails with DuplicateError if the name exists with a conflicting
// descriptor.
func (r *Registry) Register(metric measurement.Metric) (measurement.RawMetricId, error) {
	if metric.Name == "" {
		return 0, fmt.Errorf("registry: metric name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	if existingID, ok := cur.byName[metric.Name]; ok {
		existing := cur.byID[existingID]
		if existing.Equal(metric) {
			return existingID, nil
		}
		return 0, &DuplicateError{Name: metric.Name, Existing: existing, Attempt: metric}
	}

	id := measurement.RawMetricId(r.nextID.Add(1))
	next := cur.clone()
	next.byID[id] = metric
	next.byName[metric.Name] = id
	r.current.Store(next)

	r.broadcast(metric)
	return id, nil
}

// CreateMetrics batch-registers metrics under the given strategy. Both
// returned slices are parallel to metrics: for each metric that failed
// (a conflict under the DuplicateFail strategy, or any other registration
// error) ids holds 0 and errs the error; errs holds nil for each success.
func (r *Registry) CreateMetrics(metrics []measurement.Metric, strategy DuplicateStrategy) ([]measurement.RawMetricId, []error) {
	ids := make([]measurement.RawMetricId, len(metrics))
	errs := make([]error, len(metrics))
	for i, m := range metrics {
		id, err := r.createOne(m, strategy)
		ids[i] = id
		errs[i] = err
	}
	return ids, errs
}

func (r *Registry) createOne(m measurement.Metric, strategy DuplicateStrategy) (measurement.RawMetricId, error) {
	id, err := r.Register(m)
	if err == nil {
		return id, nil
	}
	var dup *DuplicateError
	if !isDuplicateError(err, &dup) {
		return 0, err
	}
	switch strategy.Kind {
	case DuplicateUseExisting:
		existingID, _ := r.Reader().ByName(m.Name)
		return existingID, nil
	case DuplicateRename:
		suffix := strategy.Suffix
		if suffix == "" {
			suffix = "dup"
		}
		candidate := m
		for i := 1; ; i++ {
			if i == 1 {
				candidate.Name = fmt.Sprintf("%s_%s", m.Name, suffix)
			} else {
				candidate.Name = fmt.Sprintf("%s_%s%d", m.Name, suffix, i)
			}
			id, err := r.Register(candidate)
			if err == nil {
				return id, nil
			}
			if !isDuplicateError(err, &dup) {
				return 0, err
			}
		}
	default:
		return 0, err
	}
}

func isDuplicateError(err error, target **DuplicateError) bool {
	de, ok := err.(*DuplicateError)
	if ok {
		*target = de
	}
	return ok
}

// Reader is a cheap, cloneable read-only handle onto the registry's latest
// snapshot.
type Reader struct {
	r *Registry
}

func (h Reader) ByID(id measurement.RawMetricId) (measurement.Metric, bool) {
	cur := h.r.current.Load()
	m, ok := cur.byID[id]
	return m, ok
}

func (h Reader) ByName(name string) (measurement.RawMetricId, bool) {
	cur := h.r.current.Load()
	id, ok := cur.byName[name]
	return id, ok
}

// Sender is the writer-side handle used by late-registering plugins.
type Sender struct {
	r *Registry
}

func (h Sender) Register(metric measurement.Metric) (measurement.RawMetricId, error) {
	return h.r.Register(metric)
}

func (h Sender) CreateMetrics(metrics []measurement.Metric, strategy DuplicateStrategy) ([]measurement.RawMetricId, []error) {
	return h.r.CreateMetrics(metrics, strategy)
}
