// Package builder assembles a runnable pipeline from a list of plugins:
// it owns the inter-stage channels, starts every manager in the order
// spec.md §4.10 prescribes, and returns a handle to the running pipeline.
package builder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"alumet/internal/broadcast"
	"alumet/internal/pipeline/control"
	"alumet/internal/pipeline/elements/output"
	"alumet/internal/pipeline/elements/source"
	"alumet/internal/pipeline/elements/transform"
	"alumet/internal/registry"
	"alumet/internal/trigger"
	"alumet/pkg/measurement"
	"alumet/pkg/plugin"
)

// DefaultChannelCapacity is the sources-to-transforms and
// transforms-to-outputs channel capacity when PipelineConfig doesn't
// override it (spec.md §4.10).
const DefaultChannelCapacity = 256

// PipelineConfig bundles everything NewPipeline needs to assemble and
// start a pipeline.
type PipelineConfig struct {
	Plugins             []plugin.Plugin
	ChannelCapacity     int
	Constraints         trigger.Constraints
	PauseTimeout        time.Duration
	InitialMetrics      []measurement.Metric
	MetricListenerSizes []int
	Log                 *logrus.Entry
}

// RunningPipeline is the handle returned once every manager and plugin
// has started; it exposes the control plane and metric registry to the
// rest of the agent.
type RunningPipeline struct {
	handle        control.Handle
	metricsReader registry.Reader
	metricsSender registry.Sender
	listeners     []<-chan measurement.Metric

	cancel   context.CancelFunc
	loopDone chan error
}

func (p *RunningPipeline) ControlHandle() control.Handle                { return p.handle }
func (p *RunningPipeline) MetricsReader() registry.Reader                { return p.metricsReader }
func (p *RunningPipeline) MetricsSender() registry.Sender                { return p.metricsSender }
func (p *RunningPipeline) MetricListeners() []<-chan measurement.Metric { return p.listeners }

// WaitForShutdown blocks until the control loop has run its full shutdown
// drain sequence and returns the aggregated error, if any.
func (p *RunningPipeline) WaitForShutdown() error { return <-p.loopDone }

// Shutdown cancels the pipeline's root context, triggering the graceful
// drain sequence (spec.md §4.8). Callers should still call
// WaitForShutdown to observe completion and errors.
func (p *RunningPipeline) Shutdown() { p.cancel() }

func builderLog(log *logrus.Entry) *logrus.Entry {
	if log != nil {
		return log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// NewPipeline builds and starts a pipeline: registry -> output manager ->
// transform manager -> source manager -> plugin Start calls -> control
// loop (spec.md §4.10).
func NewPipeline(cfg PipelineConfig) (*RunningPipeline, error) {
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = DefaultChannelCapacity
	}
	if cfg.PauseTimeout <= 0 {
		cfg.PauseTimeout = source.DefaultPauseTimeout
	}
	log := cfg.Log

	reg := registry.New(log)
	for _, m := range cfg.InitialMetrics {
		if _, err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("builder: registering initial metric %q: %w", m.Name, err)
		}
	}
	listeners := make([]<-chan measurement.Metric, 0, len(cfg.MetricListenerSizes))
	for _, size := range cfg.MetricListenerSizes {
		listeners = append(listeners, reg.Subscribe(size))
	}

	rootCtx, cancel := context.WithCancel(context.Background())

	sourcesToTransforms := make(chan *measurement.Buffer, cfg.ChannelCapacity)
	transformsToOutputs := broadcast.New(cfg.ChannelCapacity)

	// Output manager first, then transforms, then sources last, so a
	// source never pushes into a not-yet-ready downstream (spec.md §4.10).
	om := output.NewManager(transformsToOutputs, reg.Reader(), log)
	tm := transform.NewManager(sourcesToTransforms, transformsToOutputs, reg.Reader(), log)
	sm := source.NewManager(sourcesToTransforms, cfg.Constraints, cfg.PauseTimeout, log)

	go tm.Run(rootCtx)

	var closeOnce sync.Once
	closeTransformsIn := func() {
		closeOnce.Do(func() { close(sourcesToTransforms) })
	}

	loop, handle := control.NewLoop(cfg.ChannelCapacity, sm, tm, om, reg.Reader(), closeTransformsIn, tm.Done(), log)

	for _, p := range cfg.Plugins {
		start := &alumetStart{ctx: rootCtx, sources: sm, transforms: tm, outputs: om, sender: reg.Sender(), pluginName: p.Name()}
		if err := p.Start(start); err != nil {
			cancel()
			return nil, fmt.Errorf("builder: plugin %q: start: %w", p.Name(), err)
		}
	}

	rp := &RunningPipeline{
		handle:        handle,
		metricsReader: reg.Reader(),
		metricsSender: reg.Sender(),
		listeners:     listeners,
		cancel:        cancel,
		loopDone:      make(chan error, 1),
	}
	go func() { rp.loopDone <- loop.Run(rootCtx) }()

	for _, p := range cfg.Plugins {
		pp, ok := p.(plugin.PostPipelineStartPlugin)
		if !ok {
			continue
		}
		if err := pp.PostPipelineStart(postStart{handle: handle}); err != nil {
			builderLog(log).WithError(err).WithField("plugin", p.Name()).Warn("builder: post-pipeline-start hook failed")
		}
	}

	return rp, nil
}

// alumetStart is the concrete plugin.AlumetStart a single plugin's Start
// method receives; it namespaces every added element under that plugin's
// name.
type alumetStart struct {
	ctx        context.Context
	sources    *source.Manager
	transforms *transform.Manager
	outputs    *output.Manager
	sender     registry.Sender
	pluginName string
}

func (s *alumetStart) Metrics() registry.Sender { return s.sender }

func (s *alumetStart) AddSource(name string, src plugin.Source, trig plugin.TriggerSpec) error {
	spec := trigger.Spec{
		Interval:     time.Duration(trig.IntervalMillis) * time.Millisecond,
		FlushRounds:  trig.FlushRounds,
		UpdateRounds: trig.UpdateRounds,
	}
	if spec.FlushRounds == 0 {
		spec.FlushRounds = 1
	}
	if spec.UpdateRounds == 0 {
		spec.UpdateRounds = 1
	}
	_, err := s.sources.Create(s.ctx, s.pluginName, name, src, spec, source.Run)
	return err
}

func (s *alumetStart) AddTransform(name string, t plugin.Transform) error {
	_, err := s.transforms.Add(s.pluginName, name, t)
	return err
}

func (s *alumetStart) AddOutput(name string, out plugin.Output) error {
	_, err := s.outputs.AddBlocking(s.ctx, s.pluginName, name, out, output.Run)
	return err
}

func (s *alumetStart) AddAsyncOutput(name string, out plugin.AsyncOutput) error {
	_, err := s.outputs.AddAsync(s.ctx, s.pluginName, name, out, output.Run)
	return err
}

// postStart is the plugin.AlumetPostStart a plugin's optional
// PostPipelineStart method receives.
type postStart struct{ handle control.Handle }

func (p postStart) ControlHandle() any { return p.handle }
