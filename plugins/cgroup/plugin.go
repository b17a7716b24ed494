// Package cgroup discovers live cgroups (v1 and v2) and attaches one
// source per cgroup that reports its CPU time and memory usage,
// exercising internal/cgroup's mount-wait/detector/reactor stack against
// the control plane's CreateSource operation (spec.md §4.9).
package cgroup

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"alumet/internal/cgroup"
	"alumet/internal/pipeline/control"
	"alumet/internal/trigger"
	"alumet/pkg/measurement"
	"alumet/pkg/plugin"
	"alumet/pkg/units"
)

// Config is the TOML-decoded configuration under plugins.cgroup.
type Config struct {
	MountsPath      string        `mapstructure:"mounts_path"`
	IntervalMillis  int64         `mapstructure:"interval_millis"`
	CoalesceDelay   time.Duration `mapstructure:"coalesce_delay"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
}

func DefaultConfig() Config {
	return Config{
		MountsPath:      "/proc/mounts",
		IntervalMillis:  5000,
		CoalesceDelay:   cgroup.DefaultCoalesceDelay,
		DispatchTimeout: cgroup.DefaultDispatchTimeout,
	}
}

// Plugin wires the cgroup reactor to the pipeline: Start registers the two
// metrics every discovered cgroup reports, and PostPipelineStart launches
// the reactor once a control handle is available.
type Plugin struct {
	cfg Config
	log *logrus.Entry

	cpuMetric measurement.RawMetricId
	memMetric measurement.RawMetricId

	cancel context.CancelFunc
}

func New() *Plugin { return &Plugin{cfg: DefaultConfig()} }

func (p *Plugin) Name() string       { return "cgroup" }
func (p *Plugin) Version() string    { return "0.1.0" }
func (p *Plugin) DefaultConfig() any { return DefaultConfig() }

func (p *Plugin) Init(cfg any) (plugin.Plugin, error) {
	c, ok := cfg.(Config)
	if !ok {
		return nil, fmt.Errorf("cgroup: unexpected config type %T", cfg)
	}
	if c.MountsPath == "" {
		c.MountsPath = DefaultConfig().MountsPath
	}
	if c.IntervalMillis <= 0 {
		c.IntervalMillis = DefaultConfig().IntervalMillis
	}
	return &Plugin{cfg: c, log: logrus.NewEntry(logrus.StandardLogger()).WithField("plugin", "cgroup")}, nil
}

// Start registers the metrics reported for every cgroup the reactor
// discovers. It adds no sources directly: those are created dynamically
// by PostPipelineStart as cgroups come and go.
func (p *Plugin) Start(start plugin.AlumetStart) error {
	sender := start.Metrics()

	cpuID, err := sender.Register(measurement.Metric{
		Name:      "cgroup_cpu_usage_seconds",
		ValueType: measurement.F64,
		Unit:      units.Unit{Base: units.Second},
	})
	if err != nil {
		return fmt.Errorf("cgroup: registering cpu metric: %w", err)
	}
	memID, err := sender.Register(measurement.Metric{
		Name:      "cgroup_memory_usage_bytes",
		ValueType: measurement.U64,
		Unit:      units.Unit{Base: units.Byte},
	})
	if err != nil {
		return fmt.Errorf("cgroup: registering memory metric: %w", err)
	}

	p.cpuMetric = cpuID
	p.memMetric = memID
	return nil
}

// PostPipelineStart starts the reactor once the control plane is up,
// running it in the background until Stop cancels its context.
func (p *Plugin) PostPipelineStart(start plugin.AlumetPostStart) error {
	handle, ok := start.ControlHandle().(control.Handle)
	if !ok {
		return fmt.Errorf("cgroup: unexpected control handle type")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	reactor := cgroup.NewReactor(cgroup.ReactorConfig{
		PluginName:      p.Name(),
		MountsPath:      p.cfg.MountsPath,
		CoalesceDelay:   p.cfg.CoalesceDelay,
		DispatchTimeout: p.cfg.DispatchTimeout,
		Control:         handle,
		Log:             p.log,
		Setup:           p.setup,
	})
	go func() {
		if err := reactor.Run(ctx); err != nil && ctx.Err() == nil {
			p.log.WithError(err).Error("cgroup: reactor exited")
		}
	}()
	return nil
}

// setup builds the source and trigger for a newly discovered cgroup.
// Every non-root cgroup the detectors surface gets one.
func (p *Plugin) setup(cg cgroup.Cgroup) (*cgroup.ProbeSetup, bool) {
	src := newCgroupSource(cg.Path, cg.Hierarchy.Version.String(), p.cpuMetric, p.memMetric)
	return &cgroup.ProbeSetup{
		Element: cg.UniqueName(),
		Source:  src,
		Trigger: trigger.AtInterval(time.Duration(p.cfg.IntervalMillis) * time.Millisecond),
	}, true
}

func (p *Plugin) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}
