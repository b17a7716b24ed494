// Package selfmetrics implements a Prometheus endpoint exposing the
// agent's own internal pipeline counters, grounded in the teacher's
// internal/metrics promauto pattern.
package selfmetrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"alumet/internal/pipeline/control"
	"alumet/pkg/plugin"
)

var (
	sourceBlockingSends = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alumet_source_blocking_sends_total",
		Help: "Flushes that fell back to a blocking send because the outgoing channel was full",
	})
	sourcePollErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alumet_source_poll_errors_total",
		Help: "Retryable poll errors across all sources",
	})
	transformDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alumet_transform_dropped_buffers_total",
		Help: "Buffers dropped by the transform stage for lack of subscribed outputs",
	})
	outputCanRetryWrites = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alumet_output_retryable_write_errors_total",
		Help: "Retryable write errors across all outputs",
	})
	outputLaggedDeliveries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alumet_output_lagged_buffers_total",
		Help: "Buffers an output missed because it fell behind the broadcast",
	})
)

// Config is the TOML-decoded configuration under plugins.selfmetrics.
type Config struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	Path           string        `mapstructure:"path"`
	ScrapeInterval time.Duration `mapstructure:"scrape_interval"`
}

func DefaultConfig() Config {
	return Config{ListenAddr: ":9568", Path: "/metrics", ScrapeInterval: 5 * time.Second}
}

// Plugin exposes a Prometheus endpoint and, once the pipeline's control
// plane is available, polls it periodically to refresh the gauges above.
type Plugin struct {
	cfg Config
	log *logrus.Entry

	srv    *Server
	cancel context.CancelFunc
}

func New() *Plugin { return &Plugin{cfg: DefaultConfig()} }

func (p *Plugin) Name() string       { return "selfmetrics" }
func (p *Plugin) Version() string    { return "0.1.0" }
func (p *Plugin) DefaultConfig() any { return DefaultConfig() }

func (p *Plugin) Init(cfg any) (plugin.Plugin, error) {
	c, ok := cfg.(Config)
	if !ok {
		return nil, fmt.Errorf("selfmetrics: unexpected config type %T", cfg)
	}
	if c.ScrapeInterval <= 0 {
		c.ScrapeInterval = DefaultConfig().ScrapeInterval
	}
	return &Plugin{cfg: c, log: logrus.NewEntry(logrus.StandardLogger()).WithField("plugin", "selfmetrics")}, nil
}

// Start registers no pipeline elements: this plugin only exposes an HTTP
// endpoint and, via PostPipelineStart, a refresh loop.
func (p *Plugin) Start(start plugin.AlumetStart) error {
	p.srv = NewServer(p.cfg.ListenAddr, p.cfg.Path)
	return p.srv.Start(context.Background())
}

// PostPipelineStart polls control.GetStats at ScrapeInterval and updates
// the package-level gauges from it.
func (p *Plugin) PostPipelineStart(start plugin.AlumetPostStart) error {
	handle, ok := start.ControlHandle().(control.Handle)
	if !ok {
		return fmt.Errorf("selfmetrics: unexpected control handle type")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.refreshLoop(ctx, handle)
	return nil
}

func (p *Plugin) refreshLoop(ctx context.Context, handle control.Handle) {
	ticker := time.NewTicker(p.cfg.ScrapeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := handle.SendWait(ctx, control.GetStats{}, time.Second)
			if err != nil {
				p.log.WithError(err).Warn("selfmetrics: failed to refresh stats")
				continue
			}
			stats, ok := resp.(control.Stats)
			if !ok {
				continue
			}
			applyStats(stats)
		}
	}
}

func applyStats(s control.Stats) {
	sourceBlockingSends.Set(float64(s.SourceBlockingSends))
	sourcePollErrors.Set(float64(s.SourcePollErrors))
	transformDropped.Set(float64(s.TransformDropped))
	outputCanRetryWrites.Set(float64(s.OutputCanRetryWrites))
	outputLaggedDeliveries.Set(float64(s.OutputLaggedDeliveries))
}

func (p *Plugin) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.srv.Stop(ctx)
	}
	return nil
}
