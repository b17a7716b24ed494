// Package output implements the output runtime described in spec.md
// §4.7: a blocking variant running each output on its own task fed by a
// broadcast subscription, and an async variant driven by the probe's own
// Run loop over a dedicated forward channel.
package output

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"alumet/internal/broadcast"
	"alumet/internal/naming"
	"alumet/internal/trigger"
	"alumet/pkg/measurement"
	"alumet/pkg/plugin"
)

// State is the lifecycle state of an output (spec.md §4.7).
type State int

const (
	Run State = iota
	Pause
	// StopFinish drains whatever is already pending before exiting.
	StopFinish
	// StopNow exits immediately, discarding anything still pending.
	StopNow
)

// ConfigCell is the shared, mutable state cell a running Task reads and a
// control-plane caller writes to, mirroring the source runtime's cell.
type ConfigCell struct {
	state    atomic.Int32
	notifier *trigger.Notifier
}

func NewConfigCell(initial State) *ConfigCell {
	c := &ConfigCell{notifier: trigger.NewNotifier()}
	c.state.Store(int32(initial))
	return c
}

func (c *ConfigCell) State() State { return State(c.state.Load()) }

func (c *ConfigCell) SetState(s State) {
	c.state.Store(int32(s))
	c.notifier.Notify()
}

func (c *ConfigCell) Notifier() *trigger.Notifier { return c.notifier }

// Config bundles everything a blocking-output Task needs to run.
type Config struct {
	Name naming.ElementName
	Body plugin.Output
	Ctx  *plugin.OutputContext
	Sub  *broadcast.Subscriber
	Log  *logrus.Entry
}

// Task is one running blocking output: one goroutine, one broadcast
// subscription.
type Task struct {
	cfg  Config
	cell *ConfigCell

	done chan struct{}
	err  atomic.Error

	// CanRetryCount counts write errors classified CanRetry (logged and
	// ignored, per spec.md §4.7).
	CanRetryCount atomic.Uint64
}

func NewTask(cfg Config, initialState State) *Task {
	return &Task{
		cfg:  cfg,
		cell: NewConfigCell(initialState),
		done: make(chan struct{}),
	}
}

func (t *Task) Cell() *ConfigCell     { return t.cell }
func (t *Task) Done() <-chan struct{} { return t.done }
func (t *Task) Err() error            { return t.err.Load() }

func (t *Task) logf() *logrus.Entry {
	if t.cfg.Log != nil {
		return t.cfg.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Run drives the output until it reaches StopNow, its broadcast
// subscription yields no more pending buffers after a StopFinish request,
// or ctx is canceled.
func (t *Task) Run(ctx context.Context) {
	defer close(t.done)
	log := t.logf().WithField("output", t.cfg.Name.String())

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("output write: panic recovered")
			t.err.Store(plugin.Fatal{Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	for {
		switch t.cell.State() {
		case StopNow:
			return
		case StopFinish:
			t.drainPending(log)
			return
		case Pause:
			if !t.waitForTransition(ctx, log) {
				return
			}
			continue
		}

		if ctx.Err() != nil {
			t.drainPending(log)
			return
		}

		select {
		case buf := <-t.cfg.Sub.C():
			if !t.write(buf, log) {
				return
			}
		case <-t.cell.Notifier().C():
		case <-ctx.Done():
			t.drainPending(log)
			return
		}
	}
}

func (t *Task) waitForTransition(ctx context.Context, log *logrus.Entry) bool {
	for t.cell.State() == Pause {
		select {
		case <-t.cell.Notifier().C():
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// drainPending flushes whatever is already queued on the subscription
// without blocking, matching the StopFinish semantics of spec.md §4.7.
func (t *Task) drainPending(log *logrus.Entry) {
	for {
		select {
		case buf := <-t.cfg.Sub.C():
			t.write(buf, log)
		default:
			return
		}
	}
}

// write classifies the probe's error per spec.md §6 and reports whether
// the task should keep running.
func (t *Task) write(buf *measurement.Buffer, log *logrus.Entry) bool {
	if missed := t.cfg.Sub.Missed(); missed > 0 {
		log.WithField("missed", missed).Warn("output: lagging behind broadcast")
	}
	err := t.cfg.Body.Write(buf, t.cfg.Ctx)
	if err == nil {
		return true
	}
	if isCanRetry(err) {
		t.CanRetryCount.Inc()
		log.WithError(err).Debug("output write: transient error, continuing")
		return true
	}
	log.WithError(err).Error("output write: fatal error")
	t.err.Store(err)
	return false
}

func isCanRetry(err error) bool {
	for err != nil {
		if _, ok := err.(plugin.CanRetry); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// AsyncTask wraps an AsyncOutput so it can be managed uniformly alongside
// blocking outputs: Run is delegated straight to the probe, which consumes
// buffers until the forward channel closes or ctx is canceled, and pause
// is implemented by a controllable gate in front of the forward channel.
type AsyncTask struct {
	cfg  Config
	body plugin.AsyncOutput

	gate *gate
	fwd  chan *measurement.Buffer

	done chan struct{}
	err  atomic.Error
}

func NewAsyncTask(cfg Config, body plugin.AsyncOutput, initialState State) *AsyncTask {
	return &AsyncTask{
		cfg:  cfg,
		body: body,
		gate: newGate(initialState),
		fwd:  make(chan *measurement.Buffer),
		done: make(chan struct{}),
	}
}

func (t *AsyncTask) Cell() *ConfigCell     { return t.gate.cell }
func (t *AsyncTask) Done() <-chan struct{} { return t.done }
func (t *AsyncTask) Err() error            { return t.err.Load() }

// Run starts the gate-feeding goroutine and blocks on the probe's own Run
// loop, converting a panic or a returned error into a Fatal.
func (t *AsyncTask) Run(ctx context.Context) {
	defer close(t.done)
	log := t.logf()

	go t.gate.pump(ctx, t.cfg.Sub, t.fwd, log)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("async output: panic recovered")
			t.err.Store(plugin.Fatal{Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	if err := t.body.Run(ctx, t.fwd, t.cfg.Ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("async output: probe returned an error")
		t.err.Store(err)
	}
}

func (t *AsyncTask) logf() *logrus.Entry {
	if t.cfg.Log != nil {
		return t.cfg.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// gate implements the "controllable adapter" spec.md §4.7 describes for
// async outputs: a Run/Pause/Stop cell sitting between the broadcast
// subscription and the probe's forward channel.
type gate struct {
	cell *ConfigCell
}

func newGate(initial State) *gate {
	return &gate{cell: NewConfigCell(initial)}
}

func (g *gate) pump(ctx context.Context, sub *broadcast.Subscriber, fwd chan<- *measurement.Buffer, log *logrus.Entry) {
	defer close(fwd)
	for {
		switch g.cell.State() {
		case StopNow:
			return
		case StopFinish:
			for {
				select {
				case buf := <-sub.C():
					select {
					case fwd <- buf:
					case <-time.After(time.Second):
						return
					}
				default:
					return
				}
			}
		case Pause:
			select {
			case <-g.cell.Notifier().C():
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case buf := <-sub.C():
			select {
			case fwd <- buf:
			case <-ctx.Done():
				return
			}
		case <-g.cell.Notifier().C():
		case <-ctx.Done():
			return
		}
	}
}
