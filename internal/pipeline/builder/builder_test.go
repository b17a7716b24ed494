package builder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alumet/internal/pipeline/control"
	"alumet/internal/naming"
	"alumet/pkg/measurement"
	"alumet/pkg/plugin"
)

type testSource struct{}

func (testSource) Poll(acc *measurement.Accumulator, t time.Time) error {
	acc.Push(measurement.NewPoint(t, 1, nil, nil, measurement.F64Value(42)))
	return nil
}

type testOutput struct {
	mu  sync.Mutex
	got int
}

func (o *testOutput) Write(buf *measurement.Buffer, ctx *plugin.OutputContext) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got += buf.Len()
	return nil
}

func (o *testOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.got
}

type testPlugin struct {
	name   string
	output *testOutput
}

func (p *testPlugin) Name() string          { return p.name }
func (p *testPlugin) Version() string       { return "0.0.1" }
func (p *testPlugin) DefaultConfig() any    { return nil }
func (p *testPlugin) Init(cfg any) (plugin.Plugin, error) { return p, nil }
func (p *testPlugin) Stop() error           { return nil }

func (p *testPlugin) Start(start plugin.AlumetStart) error {
	if err := start.AddOutput("out", p.output); err != nil {
		return err
	}
	return start.AddSource("cpu", testSource{}, plugin.TriggerSpec{IntervalMillis: 5})
}

func TestNewPipelineRunsDataEndToEnd(t *testing.T) {
	out := &testOutput{}
	pl := &testPlugin{name: "demo", output: out}

	rp, err := NewPipeline(PipelineConfig{Plugins: []plugin.Plugin{pl}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return out.count() > 0 }, 2*time.Second, 10*time.Millisecond)

	resp, err := rp.ControlHandle().SendWait(context.Background(), control.ListElements{Filter: naming.ElementPattern{}}, time.Second)
	require.NoError(t, err)
	names := resp.([]naming.ElementName)
	assert.Len(t, names, 2)

	rp.Shutdown()
	require.NoError(t, rp.WaitForShutdown())
}
