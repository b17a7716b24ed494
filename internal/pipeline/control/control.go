// Package control implements the pipeline's control bus: a single loop
// task owning the three element managers, dispatching typed requests and
// running the shutdown drain sequence (spec.md §4.8).
package control

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"alumet/internal/naming"
	"alumet/internal/pipeline/elements/output"
	"alumet/internal/pipeline/elements/source"
	"alumet/internal/pipeline/elements/transform"
	"alumet/internal/registry"
	"alumet/internal/trigger"
	"alumet/pkg/plugin"
)

// ErrNotAvailable names the state of a control loop that has already shut
// down. SendWait and Dispatch do not detect that state and never return
// it: after shutdown, Dispatch returns nil while the request channel has
// room, and SendWait returns ErrTimeout once its timeout expires.
var ErrNotAvailable = errors.New("control: loop is not available")

// ErrTimeout is returned when a request's per-call timeout expires before
// a response arrives; the in-flight work itself is not canceled.
var ErrTimeout = errors.New("control: request timed out")

// request bundles a typed operation with an optional oneshot response
// channel, mirroring spec.md's "each request carries an optional oneshot
// sender for its response".
type request struct {
	op       any
	response chan response
}

type response struct {
	value any
	err   error
}

// CreateSource asks the control loop to build and start a new source.
type CreateSource struct {
	Plugin, Element string
	Body            plugin.Source
	Trigger         trigger.Spec
	InitialState    source.TaskState
}

type CreateTransform struct {
	Plugin, Element string
	Body            plugin.Transform
}

type CreateBlockingOutput struct {
	Plugin, Element string
	Body            plugin.Output
	InitialState    output.State
}

type CreateAsyncOutput struct {
	Plugin, Element string
	Body            plugin.AsyncOutput
	InitialState    output.State
}

// CreateMany batches any number of create operations; per-element errors
// are reported individually and do not abort the rest of the batch
// (spec.md §4.8).
type CreateMany struct {
	Ops []any
}

type CreateManyResult struct {
	Names []naming.ElementName
	Errs  []error
}

type ConfigureSourceState struct {
	Pattern naming.ElementPattern
	State   source.TaskState
}

type ConfigureSourceTrigger struct {
	Pattern naming.ElementPattern
	Trigger trigger.Spec
}

type ConfigureOutputState struct {
	Pattern naming.ElementPattern
	State   output.State
}

type ConfigureTransformEnabled struct {
	Pattern naming.ElementPattern
	Enabled bool
}

// ListElements returns every live element name matching Filter, across
// all three kinds.
type ListElements struct {
	Filter naming.ElementPattern
}

// GetStats asks for a snapshot of the internal counters exposed across
// all three element managers, used by the self-metrics plugin.
type GetStats struct{}

// Stats is GetStats' response.
type Stats struct {
	SourceBlockingSends   uint64
	SourcePollErrors      uint64
	TransformDropped      uint64
	OutputCanRetryWrites  uint64
	OutputLaggedDeliveries uint64
}

// Shutdown runs the graceful drain sequence and makes Run return; it does
// not cancel the context passed to Run. Its response is the aggregated
// shutdown error.
type Shutdown struct{}

// Handle is the cloneable client view onto the control loop.
type Handle struct {
	reqCh chan request
}

// Dispatch is a fire-and-forget send: it may wait for channel space but
// does not wait for a response. timeout bounds how long it waits for
// space in the request channel.
func (h Handle) Dispatch(ctx context.Context, op any, timeout time.Duration) error {
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case h.reqCh <- request{op: op}:
		return nil
	case <-c.Done():
		return ErrTimeout
	}
}

// SendWait sends op and awaits its typed response, bounded by timeout.
func (h Handle) SendWait(ctx context.Context, op any, timeout time.Duration) (any, error) {
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp := make(chan response, 1)
	select {
	case h.reqCh <- request{op: op, response: resp}:
	case <-c.Done():
		return nil, ErrTimeout
	}
	select {
	case r := <-resp:
		return r.value, r.err
	case <-c.Done():
		return nil, ErrTimeout
	}
}

// DispatchInCurrentRuntime performs a non-blocking send when possible and
// spawns a background retry otherwise, for callers that must not block
// their own event loop (spec.md §4.8).
func (h Handle) DispatchInCurrentRuntime(ctx context.Context, op any, timeout time.Duration) {
	select {
	case h.reqCh <- request{op: op}:
		return
	default:
	}
	go func() {
		_ = h.Dispatch(ctx, op, timeout)
	}()
}

// Loop is the control plane's single task. It owns the three element
// managers and the channel/broadcaster they share with the rest of the
// pipeline.
type Loop struct {
	reqCh   chan request
	sources *source.Manager
	trans   *transform.Manager
	outputs *output.Manager
	metrics registry.Reader

	// closeTransformsIn closes the sources-to-transforms channel so the
	// transform task's Run loop returns once sources have finished
	// draining into it; transformsDone reports when that has happened.
	// Both are supplied by the builder, which owns the channel
	// (spec.md §4.10).
	closeTransformsIn func()
	transformsDone    <-chan struct{}

	log *logrus.Entry

	shutdownOnce sync.Once
	shutdownErr  error
	lastErr      error
}

// NewLoop constructs the control loop's request channel and binds it to
// the already-built managers. reqBufSize is the bounded MPSC capacity
// (spec.md §4.8). closeTransformsIn and transformsDone wire the shutdown
// drain sequence to the builder-owned inter-stage channel.
func NewLoop(reqBufSize int, sources *source.Manager, trans *transform.Manager, outputs *output.Manager, metrics registry.Reader, closeTransformsIn func(), transformsDone <-chan struct{}, log *logrus.Entry) (*Loop, Handle) {
	reqCh := make(chan request, reqBufSize)
	l := &Loop{
		reqCh:             reqCh,
		sources:           sources,
		trans:             trans,
		outputs:           outputs,
		metrics:           metrics,
		closeTransformsIn: closeTransformsIn,
		transformsDone:    transformsDone,
		log:               log,
	}
	return l, Handle{reqCh: reqCh}
}

func (l *Loop) logf() *logrus.Entry {
	if l.log != nil {
		return l.log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Run is the control loop body: select over an incoming request or the
// root context's cancellation (the "shutdown token", spec.md §4.8).
// SIGINT/SIGTERM reach ctx through cmd/run.go, which watches them with
// signal.NotifyContext and calls RunningPipeline.Shutdown to cancel the
// builder's root context.
func (l *Loop) Run(ctx context.Context) error {
	log := l.logf()
	for {
		select {
		case <-ctx.Done():
			return l.shutdown(context.Background())
		case req := <-l.reqCh:
			l.handle(ctx, req, log)
			if _, isShutdown := req.op.(Shutdown); isShutdown {
				return l.lastErr
			}
		}
	}
}

func (l *Loop) handle(ctx context.Context, req request, log *logrus.Entry) {
	var resp response
	switch op := req.op.(type) {
	case CreateSource:
		name, err := l.sources.Create(ctx, op.Plugin, op.Element, op.Body, op.Trigger, op.InitialState)
		resp = response{value: name, err: err}
	case CreateTransform:
		name, err := l.trans.Add(op.Plugin, op.Element, op.Body)
		resp = response{value: name, err: err}
	case CreateBlockingOutput:
		name, err := l.outputs.AddBlocking(ctx, op.Plugin, op.Element, op.Body, op.InitialState)
		resp = response{value: name, err: err}
	case CreateAsyncOutput:
		name, err := l.outputs.AddAsync(ctx, op.Plugin, op.Element, op.Body, op.InitialState)
		resp = response{value: name, err: err}
	case CreateMany:
		resp = response{value: l.createMany(ctx, op)}
	case ConfigureSourceState:
		resp = response{value: l.sources.SetState(op.Pattern, op.State)}
	case ConfigureSourceTrigger:
		resp = response{value: l.sources.SetTrigger(op.Pattern, op.Trigger)}
	case ConfigureOutputState:
		resp = response{value: l.outputs.SetState(op.Pattern, op.State)}
	case ConfigureTransformEnabled:
		resp = response{value: l.trans.SetEnabled(op.Pattern, op.Enabled)}
	case ListElements:
		resp = response{value: l.listAll(op.Filter)}
	case GetStats:
		resp = response{value: l.stats()}
	case Shutdown:
		l.lastErr = l.shutdown(context.Background())
		resp = response{err: l.lastErr}
	default:
		resp = response{err: errors.New("control: unknown request type")}
		log.WithField("op", req.op).Warn("control: unrecognized request")
	}
	if req.response != nil {
		req.response <- resp
	}
}

func (l *Loop) createMany(ctx context.Context, batch CreateMany) CreateManyResult {
	var result CreateManyResult
	for _, op := range batch.Ops {
		var name naming.ElementName
		var err error
		switch o := op.(type) {
		case CreateSource:
			name, err = l.sources.Create(ctx, o.Plugin, o.Element, o.Body, o.Trigger, o.InitialState)
		case CreateTransform:
			name, err = l.trans.Add(o.Plugin, o.Element, o.Body)
		case CreateBlockingOutput:
			name, err = l.outputs.AddBlocking(ctx, o.Plugin, o.Element, o.Body, o.InitialState)
		case CreateAsyncOutput:
			name, err = l.outputs.AddAsync(ctx, o.Plugin, o.Element, o.Body, o.InitialState)
		default:
			err = errors.New("control: unsupported op in CreateMany batch")
		}
		result.Names = append(result.Names, name)
		result.Errs = append(result.Errs, err)
	}
	return result
}

func (l *Loop) stats() Stats {
	srcStats := l.sources.Stats()
	transStats := l.trans.Stats()
	outStats := l.outputs.Stats()
	return Stats{
		SourceBlockingSends:    srcStats.BlockingSends,
		SourcePollErrors:       srcStats.PollErrors,
		TransformDropped:       transStats.DroppedBuffers,
		OutputCanRetryWrites:   outStats.CanRetryWrites,
		OutputLaggedDeliveries: outStats.LaggedDeliveries,
	}
}

func (l *Loop) listAll(filter naming.ElementPattern) []naming.ElementName {
	var all []naming.ElementName
	all = append(all, l.sources.List(filter)...)
	all = append(all, l.trans.List(filter)...)
	all = append(all, l.outputs.List(filter)...)
	return all
}

// shutdown runs the drain sequence spec.md §4.8 prescribes: stop sources,
// await their termination, stop transforms, await, stop outputs
// (broadcasting StopFinish), await. closeTransformsIn and transformsDone
// are supplied by the builder so this package doesn't need to own the
// inter-stage channels directly.
func (l *Loop) shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		var combined error
		combined = multierr.Append(combined, l.sources.Shutdown(ctx))
		if l.closeTransformsIn != nil {
			l.closeTransformsIn()
		}
		if l.transformsDone != nil {
			select {
			case <-l.transformsDone:
			case <-ctx.Done():
			}
		}
		combined = multierr.Append(combined, l.trans.Err())
		combined = multierr.Append(combined, l.outputs.Shutdown(ctx))
		l.shutdownErr = combined
	})
	return l.shutdownErr
}
