package cgroup

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"alumet/internal/pipeline/control"
	"alumet/internal/trigger"
	"alumet/pkg/plugin"
)

// DefaultCoalesceDelay batches multiple cgroup events arriving in a burst
// (typically many v1 hierarchies mounting at boot) so one round of setup
// callbacks handles them together (spec.md §4.9).
const DefaultCoalesceDelay = time.Second

// DefaultDispatchTimeout bounds how long the reactor waits for the
// control plane to accept a create_one request for a new cgroup source.
const DefaultDispatchTimeout = time.Second

// maxCoalesceMultiplier hard-caps how long the coalescing window can be
// pushed out by a steady trickle of arrivals: after this many multiples
// of CoalesceDelay the pending batch is flushed unconditionally (decided
// Open Question, see DESIGN.md).
const maxCoalesceMultiplier = 5

// ProbeSetup is what a SetupFunc returns to materialize a source for a
// newly discovered cgroup.
type ProbeSetup struct {
	Element string
	Source  plugin.Source
	Trigger trigger.Spec
}

// SetupFunc decides whether and how to build a source for a cgroup. A
// false second return means skip this cgroup.
type SetupFunc func(Cgroup) (*ProbeSetup, bool)

// RemovalFunc is invoked when a cgroup disappears.
type RemovalFunc func(Cgroup)

// ReactorConfig bundles everything the reactor needs.
type ReactorConfig struct {
	PluginName        string
	MountsPath        string
	CoalesceDelay     time.Duration
	DispatchTimeout   time.Duration
	V1RefreshInterval time.Duration
	Setup             SetupFunc
	Removal           RemovalFunc
	Control           control.Handle
	Log               *logrus.Entry
}

// Reactor composes the mount waiter and per-hierarchy detectors, owns
// their goroutines, and reacts to cgroup creation/removal by dispatching
// create_one requests through the control plane (spec.md §4.9, layer 3).
type Reactor struct {
	cfg ReactorConfig
	wg  conc.WaitGroup
}

func NewReactor(cfg ReactorConfig) *Reactor {
	if cfg.CoalesceDelay <= 0 {
		cfg.CoalesceDelay = DefaultCoalesceDelay
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	return &Reactor{cfg: cfg}
}

func (r *Reactor) logf() *logrus.Entry {
	if r.cfg.Log != nil {
		return r.cfg.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Run blocks until ctx is canceled. Dropping the reactor (canceling ctx
// and letting Run return) stops every detector and mount waiter it owns
// (spec.md §4.9 failure model).
func (r *Reactor) Run(ctx context.Context) error {
	log := r.logf()
	hierarchies := make(chan Hierarchy, 8)
	events := make(chan Event, 64)

	waiter := NewMountWaiter(r.cfg.MountsPath)
	r.wg.Go(func() {
		if err := waiter.Run(ctx, hierarchies); err != nil {
			log.WithError(err).Error("cgroup: mount waiter exited")
		}
	})

	r.wg.Go(func() {
		r.dispatchDetectors(ctx, hierarchies, events, log)
	})

	r.coalesceAndReact(ctx, events, log)
	r.wg.Wait()
	return nil
}

// dispatchDetectors starts one detector goroutine per newly discovered
// hierarchy, owned by the reactor's WaitGroup.
func (r *Reactor) dispatchDetectors(ctx context.Context, hierarchies <-chan Hierarchy, events chan<- Event, log *logrus.Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case h, ok := <-hierarchies:
			if !ok {
				return
			}
			hCopy := h
			r.wg.Go(func() {
				var err error
				if hCopy.Version == V2 {
					err = NewDetectorV2(hCopy, log).Run(ctx, events)
				} else {
					err = NewDetectorV1(hCopy, r.cfg.V1RefreshInterval, log).Run(ctx, events)
				}
				if err != nil {
					log.WithError(err).WithField("hierarchy", hCopy.Root).Error("cgroup: detector exited")
				}
			})
		}
	}
}

// coalesceAndReact batches events arriving within CoalesceDelay of each
// other (restarting the window on every new arrival, capped at
// maxCoalesceMultiplier * CoalesceDelay) and then invokes the setup or
// removal callback for each one in the batch.
func (r *Reactor) coalesceAndReact(ctx context.Context, events <-chan Event, log *logrus.Entry) {
	var pending []Event
	var timer *time.Timer
	var timerC <-chan time.Time
	var windowStart time.Time
	hardCap := time.Duration(maxCoalesceMultiplier) * r.cfg.CoalesceDelay

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	flush := func() {
		batch := pending
		pending = nil
		stopTimer()
		for _, ev := range batch {
			r.react(ctx, ev, log)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				flush()
				return
			}
			pending = append(pending, ev)
			if timer == nil {
				windowStart = time.Now()
				timer = time.NewTimer(r.cfg.CoalesceDelay)
				timerC = timer.C
			} else if elapsed := time.Since(windowStart); elapsed < hardCap {
				stopTimer()
				wait := r.cfg.CoalesceDelay
				if remaining := hardCap - elapsed; remaining < wait {
					wait = remaining
				}
				timer = time.NewTimer(wait)
				timerC = timer.C
			}
			// else: hard cap already reached, let the in-flight timer fire as scheduled.
		case <-timerC:
			flush()
		}
	}
}

func (r *Reactor) react(ctx context.Context, ev Event, log *logrus.Entry) {
	cg := Cgroup{Hierarchy: ev.Hierarchy, Path: ev.Path}
	if ev.Created {
		r.reactCreate(ctx, cg, log)
		return
	}
	if r.cfg.Removal != nil {
		r.cfg.Removal(cg)
	}
}

func (r *Reactor) reactCreate(ctx context.Context, cg Cgroup, log *logrus.Entry) {
	if r.cfg.Setup == nil {
		return
	}
	setup, ok := r.cfg.Setup(cg)
	if !ok || setup == nil {
		return
	}
	op := control.CreateSource{
		Plugin:  r.cfg.PluginName,
		Element: setup.Element,
		Body:    setup.Source,
		Trigger: setup.Trigger,
	}
	// Individual source-creation failures are logged; they do not abort
	// other creations (spec.md §4.9 failure model).
	if _, err := r.cfg.Control.SendWait(ctx, op, r.cfg.DispatchTimeout); err != nil {
		log.WithError(err).WithField("cgroup", cg.Path).Warn("cgroup: failed to create source for new cgroup")
	}
}
