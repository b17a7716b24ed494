// Package trigger implements the periodic scheduling primitive driving each
// source: a sleep-until loop that can be interrupted by a configuration
// change instead of firing late, as described in spec.md §4.2.
package trigger

import (
	"fmt"
	"time"
)

// Spec describes how a source wants to be triggered.
type Spec struct {
	Interval    time.Duration
	FlushRounds uint32 // every FlushRounds ticks, flush the buffer
	UpdateRounds uint32 // every UpdateRounds ticks, check the config cell
	// RealtimePriorityHint is carried with the spec but is not read by the
	// builder or the source runtime: every source task runs as an ordinary
	// goroutine whatever its value.
	RealtimePriorityHint *int
}

// AtInterval returns a Spec with FlushRounds = UpdateRounds = 1.
func AtInterval(d time.Duration) Spec {
	return Spec{Interval: d, FlushRounds: 1, UpdateRounds: 1}
}

func (s Spec) validate() error {
	if s.Interval <= 0 {
		return fmt.Errorf("trigger: interval must be positive, got %s", s.Interval)
	}
	if s.FlushRounds == 0 {
		return fmt.Errorf("trigger: flush_rounds must be >= 1")
	}
	if s.UpdateRounds == 0 {
		return fmt.Errorf("trigger: update_rounds must be >= 1")
	}
	return nil
}

// Constraints bound every trigger change performed through Trigger.Constrain.
type Constraints struct {
	MinInterval     time.Duration
	MaxFlushRounds  uint32
}

// Outcome is the result of waiting for the next tick.
type Outcome int

const (
	Triggered Outcome = iota
	Interrupted
)

// Notifier is a level-triggered wakeup signal: Notify is safe to call from
// any goroutine, and is coalesced (multiple Notify calls between two
// receives from C behave as one).
type Notifier struct {
	ch chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *Notifier) C() <-chan struct{} { return n.ch }

// Trigger is a running instance of a Spec attached to one source.
type Trigger struct {
	spec     Spec
	lastTick time.Time
}

// New validates spec and creates a Trigger whose first tick is due one
// interval from now.
func New(spec Spec) (*Trigger, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return &Trigger{spec: spec, lastTick: time.Now()}, nil
}

func (t *Trigger) Spec() Spec { return t.spec }

// Constrain clamps the trigger's spec to satisfy the global constraints,
// applied on every trigger change (spec.md §4.2).
func (t *Trigger) Constrain(c Constraints) {
	if c.MinInterval > 0 && t.spec.Interval < c.MinInterval {
		t.spec.Interval = c.MinInterval
	}
	if c.MaxFlushRounds > 0 && t.spec.FlushRounds > c.MaxFlushRounds {
		t.spec.FlushRounds = c.MaxFlushRounds
	}
}

// Next waits for the earlier of the trigger's own deadline or a
// notification on changeNotifier. On Triggered, lastTick advances to the
// deadline that just elapsed (not to "now", to avoid drift); on
// Interrupted, lastTick is left untouched so the caller can re-read
// configuration and call Next again without skipping a tick.
func (t *Trigger) Next(changeNotifier *Notifier) Outcome {
	deadline := t.lastTick.Add(t.spec.Interval)
	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var notifyCh <-chan struct{}
	if changeNotifier != nil {
		notifyCh = changeNotifier.C()
	}

	select {
	case <-timer.C:
		t.lastTick = deadline
		return Triggered
	case <-notifyCh:
		return Interrupted
	}
}
