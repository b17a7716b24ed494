// Package console implements a debug/CSV output plugin: it writes every
// measurement point to stdout or to a file, in either a
// human-readable "text" form or CSV — the console sink spec.md §1 lists
// alongside InfluxDB and the relay server.
package console

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"alumet/pkg/measurement"
	"alumet/pkg/plugin"
)

// Config is the TOML-decoded configuration under plugins.console.
type Config struct {
	// Format is "text" or "csv".
	Format string `mapstructure:"format"`
	// Path is the output file; empty means stdout.
	Path string `mapstructure:"path"`
}

func DefaultConfig() Config { return Config{Format: "text"} }

// Output writes measurement buffers to an io.Writer, defaulting to
// stdout. It implements plugin.Output.
type Output struct {
	cfg Config

	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	csv      *csv.Writer
	wroteCSV bool

	written atomic.Uint64
}

// NewOutput builds a console/CSV Output; call Close when done if cfg.Path
// is set, to flush and release the file handle.
func NewOutput(cfg Config) (*Output, error) {
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Format != "text" && cfg.Format != "csv" {
		return nil, fmt.Errorf("console: invalid format %q, must be text or csv", cfg.Format)
	}

	var w io.Writer = os.Stdout
	var closer io.Closer
	if cfg.Path != "" {
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("console: opening %s: %w", cfg.Path, err)
		}
		w = f
		closer = f
	}

	o := &Output{cfg: cfg, w: w, closer: closer}
	if cfg.Format == "csv" {
		o.csv = csv.NewWriter(w)
	}
	return o, nil
}

// Write implements plugin.Output: it renders every point in buf to the
// configured sink.
func (o *Output) Write(buf *measurement.Buffer, octx *plugin.OutputContext) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, p := range buf.Points() {
		name := strconv.FormatUint(uint64(p.Metric), 10)
		if m, ok := octx.Metrics.ByID(p.Metric); ok {
			name = m.Name
		}
		if o.cfg.Format == "csv" {
			if err := o.writeCSVRow(name, p); err != nil {
				return plugin.CanRetry{Err: fmt.Errorf("console: csv write: %w", err)}
			}
			continue
		}
		if err := o.writeTextRow(name, p); err != nil {
			return plugin.CanRetry{Err: fmt.Errorf("console: text write: %w", err)}
		}
	}
	o.written.Add(uint64(buf.Len()))
	if o.csv != nil {
		o.csv.Flush()
		return o.csv.Error()
	}
	return nil
}

func (o *Output) writeCSVRow(metricName string, p measurement.Point) error {
	if !o.wroteCSV {
		if err := o.csv.Write([]string{"timestamp", "metric", "resource_kind", "resource_id", "value"}); err != nil {
			return err
		}
		o.wroteCSV = true
	}
	id, _ := p.Resource.IDString()
	return o.csv.Write([]string{
		p.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		metricName,
		p.Resource.Kind(),
		id,
		strconv.FormatFloat(p.Value.F64(), 'g', -1, 64),
	})
}

func (o *Output) writeTextRow(metricName string, p measurement.Point) error {
	id, hasID := p.Resource.IDString()
	resource := p.Resource.Kind()
	if hasID {
		resource = fmt.Sprintf("%s[%s]", resource, id)
	}
	_, err := fmt.Fprintf(o.w, "[%s] %s %s = %v\n",
		p.Timestamp.Format("15:04:05.000"), resource, metricName, p.Value.F64())
	return err
}

// Written returns the number of points written so far.
func (o *Output) Written() uint64 { return o.written.Load() }

// Close flushes and releases the underlying file handle, if any.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.csv != nil {
		o.csv.Flush()
	}
	if o.closer != nil {
		return o.closer.Close()
	}
	return nil
}

// consolePlugin adapts Output to the plugin.Plugin lifecycle: Init
// builds the concrete *Output, and Start registers it as the pipeline's
// "console" output element.
type consolePlugin struct {
	cfg Config
	out *Output
}

func (p *consolePlugin) Name() string       { return "console" }
func (p *consolePlugin) Version() string    { return "0.1.0" }
func (p *consolePlugin) DefaultConfig() any { return DefaultConfig() }

func (p *consolePlugin) Init(cfg any) (plugin.Plugin, error) {
	c, ok := cfg.(Config)
	if !ok {
		return nil, fmt.Errorf("console: unexpected config type %T", cfg)
	}
	return &consolePlugin{cfg: c}, nil
}

func (p *consolePlugin) Start(start plugin.AlumetStart) error {
	out, err := NewOutput(p.cfg)
	if err != nil {
		return err
	}
	p.out = out
	return start.AddOutput("console", out)
}

func (p *consolePlugin) Stop() error {
	if p.out != nil {
		return p.out.Close()
	}
	return nil
}

// New returns the plugin.Plugin used to register this output statically
// (spec.md §6: plugin loading is static in scope, dynamic is not).
func New() plugin.Plugin { return &consolePlugin{cfg: DefaultConfig()} }
