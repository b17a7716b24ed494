// Package source implements the per-source runtime task described in
// spec.md §4.5: trigger -> poll -> accumulate -> flush, reacting to
// Run/Pause/Stop state and to trigger reconfiguration.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"alumet/internal/naming"
	"alumet/internal/trigger"
	"alumet/pkg/measurement"
	"alumet/pkg/plugin"
)

// TaskState is the lifecycle state of a source (spec.md §3).
type TaskState int

const (
	Run TaskState = iota
	Pause
	Stop
)

// DefaultPauseTimeout bounds how long a paused source waits for a
// transition before self-terminating (spec.md §5).
const DefaultPauseTimeout = 60 * time.Second

// ConfigCell is the shared, mutable cell a running Task reads from and a
// control-plane caller writes to. Every write fires notifier so the task's
// trigger wait wakes up promptly (spec.md §4.5).
type ConfigCell struct {
	state      atomic.Int32
	pending    atomic.Pointer[trigger.Spec]
	notifier   *trigger.Notifier
}

func NewConfigCell(initial TaskState) *ConfigCell {
	c := &ConfigCell{notifier: trigger.NewNotifier()}
	c.state.Store(int32(initial))
	return c
}

func (c *ConfigCell) State() TaskState { return TaskState(c.state.Load()) }

func (c *ConfigCell) SetState(s TaskState) {
	c.state.Store(int32(s))
	c.notifier.Notify()
}

// SetTrigger queues a new trigger spec to be picked up on the task's next
// update check (or immediately, since setting it also interrupts the
// trigger wait).
func (c *ConfigCell) SetTrigger(spec trigger.Spec) {
	c.pending.Store(&spec)
	c.notifier.Notify()
}

func (c *ConfigCell) consumeTrigger() (trigger.Spec, bool) {
	p := c.pending.Swap(nil)
	if p == nil {
		return trigger.Spec{}, false
	}
	return *p, true
}

func (c *ConfigCell) Notifier() *trigger.Notifier { return c.notifier }

// Config bundles everything a Task needs to run.
type Config struct {
	Name         naming.ElementName
	Source       plugin.Source
	Trigger      trigger.Spec
	Constraints  trigger.Constraints
	Out          chan<- *measurement.Buffer
	PauseTimeout time.Duration
	Log          *logrus.Entry
}

// Task is one running source: one goroutine, one Trigger, one output
// channel.
type Task struct {
	cfg  Config
	cell *ConfigCell
	trig *trigger.Trigger

	done chan struct{}
	err  atomic.Error

	// BlockingSends counts how many flushes had to fall back to a
	// blocking send because the outgoing channel was full, exposed for
	// the backpressure test scenario in spec.md §8.
	BlockingSends atomic.Uint64

	// PollErrors counts retryable Poll errors (logged and skipped rather
	// than ending the task).
	PollErrors atomic.Uint64
}

// NewTask validates cfg.Trigger and returns a Task ready to Run.
func NewTask(cfg Config, initialState TaskState) (*Task, error) {
	if cfg.PauseTimeout <= 0 {
		cfg.PauseTimeout = DefaultPauseTimeout
	}
	trig, err := trigger.New(cfg.Trigger)
	if err != nil {
		return nil, err
	}
	trig.Constrain(cfg.Constraints)
	return &Task{
		cfg:  cfg,
		cell: NewConfigCell(initialState),
		trig: trig,
		done: make(chan struct{}),
	}, nil
}

func (t *Task) Cell() *ConfigCell   { return t.cell }
func (t *Task) Done() <-chan struct{} { return t.done }
func (t *Task) Err() error          { return t.err.Load() }

func (t *Task) logf() *logrus.Entry {
	if t.cfg.Log != nil {
		return t.cfg.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Run executes the source's lifecycle to completion. It returns once the
// task has stopped, either because of a Stop transition, a fatal poll
// error, a normal-stop signal from the probe, or ctx being canceled.
func (t *Task) Run(ctx context.Context) {
	defer close(t.done)
	log := t.logf().WithField("source", t.cfg.Name.String())

	// A panicking probe must not take the rest of the agent down with it
	// (spec.md §7): convert it into a Fatal error recorded on the task.
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("source poll: panic recovered")
			t.err.Store(plugin.Fatal{Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	switch t.cell.State() {
	case Stop:
		return
	case Pause:
		if !t.waitForTransition(ctx, log) {
			return
		}
	}

	buf := measurement.NewBuffer(64)
	var round uint64

	for {
		if ctx.Err() != nil {
			t.flushFinal(buf, log)
			return
		}

		outcome := t.trig.Next(t.cell.Notifier())
		if ctx.Err() != nil {
			t.flushFinal(buf, log)
			return
		}

		if outcome == trigger.Interrupted {
			if !t.applyConfigUpdate(ctx, buf, log) {
				return
			}
			continue
		}

		round++
		ts := time.Now()
		acc := measurement.NewAccumulator(buf)
		if err := t.cfg.Source.Poll(acc, ts); err != nil {
			switch {
			case plugin.IsNormalStop(err):
				log.Debug("source reported normal stop")
				t.flushFinal(buf, log)
				return
			case isCanRetry(err):
				t.PollErrors.Inc()
				log.WithError(err).Debug("source poll: transient error, continuing")
			default:
				log.WithError(err).Error("source poll: fatal error")
				t.err.Store(err)
				t.flushFinal(buf, log)
				return
			}
		}

		spec := t.trig.Spec()
		if spec.FlushRounds > 0 && round%uint64(spec.FlushRounds) == 0 {
			buf = t.flush(buf, log)
		}
		if spec.UpdateRounds > 0 && round%uint64(spec.UpdateRounds) == 0 {
			if !t.applyConfigUpdate(ctx, buf, log) {
				return
			}
		}
	}
}

// applyConfigUpdate consumes a pending trigger change and reacts to the
// current state. It returns false if the task should exit.
func (t *Task) applyConfigUpdate(ctx context.Context, buf *measurement.Buffer, log *logrus.Entry) bool {
	if spec, ok := t.cell.consumeTrigger(); ok {
		newTrig, err := trigger.New(spec)
		if err != nil {
			log.WithError(err).Warn("source: rejected invalid trigger update")
		} else {
			newTrig.Constrain(t.cfg.Constraints)
			t.trig = newTrig
		}
	}

	switch t.cell.State() {
	case Run:
		return true
	case Pause:
		if r, ok := t.cfg.Source.(plugin.Resettable); ok {
			r.Reset()
		}
		return t.waitForTransition(ctx, log)
	default: // Stop
		t.flushFinal(buf, log)
		return false
	}
}

// waitForTransition blocks until the cell's state leaves Pause, ctx is
// canceled, or PauseTimeout elapses (self-terminating on timeout per
// spec.md §4.5 step 1 / §5).
func (t *Task) waitForTransition(ctx context.Context, log *logrus.Entry) bool {
	for t.cell.State() == Pause {
		timer := time.NewTimer(t.cfg.PauseTimeout)
		select {
		case <-t.cell.Notifier().C():
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
			log.Warn("source: pause timeout elapsed, self-terminating")
			return false
		}
	}
	return t.cell.State() != Stop
}

// flush attempts a non-blocking send first; on a full channel it falls
// back to a blocking send and logs a warning — the chosen backpressure
// policy (spec.md §9, Open Question resolved in SPEC_FULL.md §9).
func (t *Task) flush(buf *measurement.Buffer, log *logrus.Entry) *measurement.Buffer {
	if buf.IsEmpty() {
		return buf
	}
	select {
	case t.cfg.Out <- buf:
	default:
		t.BlockingSends.Inc()
		log.Warn("source: outgoing channel full, blocking")
		t.cfg.Out <- buf
	}
	return measurement.NewBuffer(buf.Len())
}

func (t *Task) flushFinal(buf *measurement.Buffer, log *logrus.Entry) {
	if buf.IsEmpty() {
		return
	}
	select {
	case t.cfg.Out <- buf:
	default:
		t.BlockingSends.Inc()
		t.cfg.Out <- buf
	}
}

func isCanRetry(err error) bool {
	var cr plugin.CanRetry
	return asCanRetry(err, &cr)
}

func asCanRetry(err error, target *plugin.CanRetry) bool {
	for err != nil {
		if cr, ok := err.(plugin.CanRetry); ok {
			*target = cr
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
