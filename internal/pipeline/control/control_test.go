package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alumet/internal/broadcast"
	"alumet/internal/naming"
	"alumet/internal/pipeline/elements/output"
	"alumet/internal/pipeline/elements/source"
	"alumet/internal/pipeline/elements/transform"
	"alumet/internal/registry"
	"alumet/internal/trigger"
	"alumet/pkg/measurement"
	"alumet/pkg/plugin"
)

type stubSource struct{}

func (stubSource) Poll(acc *measurement.Accumulator, t time.Time) error {
	acc.Push(measurement.NewPoint(t, 1, nil, nil, measurement.F64Value(1)))
	return nil
}

type recordingOutput struct {
	mu  sync.Mutex
	buf []*measurement.Buffer
}

func (o *recordingOutput) Write(buf *measurement.Buffer, ctx *plugin.OutputContext) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf = append(o.buf, buf)
	return nil
}

func (o *recordingOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buf)
}

func newTestLoop(t *testing.T) (*Loop, Handle, context.Context, context.CancelFunc) {
	t.Helper()
	reg := registry.New(nil)
	sourcesToTransforms := make(chan *measurement.Buffer, 4)
	transformsToOutputs := broadcast.New(4)

	sm := source.NewManager(sourcesToTransforms, trigger.Constraints{}, source.DefaultPauseTimeout, nil)
	tm := transform.NewManager(sourcesToTransforms, transformsToOutputs, reg.Reader(), nil)
	om := output.NewManager(transformsToOutputs, reg.Reader(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go tm.Run(ctx)

	var closeOnce sync.Once
	closeFn := func() {
		closeOnce.Do(func() { close(sourcesToTransforms) })
	}

	loop, handle := NewLoop(8, sm, tm, om, reg.Reader(), closeFn, tm.Done(), nil)
	return loop, handle, ctx, cancel
}

func TestControlCreateSourceAndList(t *testing.T) {
	loop, handle, ctx, cancel := newTestLoop(t)
	defer cancel()
	go loop.Run(ctx)

	resp, err := handle.SendWait(ctx, CreateSource{
		Plugin:  "p",
		Element: "cpu",
		Body:    stubSource{},
		Trigger: trigger.AtInterval(5 * time.Millisecond),
	}, time.Second)
	require.NoError(t, err)
	name := resp.(naming.ElementName)
	assert.Equal(t, naming.Source, name.Kind)

	resp, err = handle.SendWait(ctx, ListElements{Filter: naming.ElementPattern{}}, time.Second)
	require.NoError(t, err)
	names := resp.([]naming.ElementName)
	assert.Contains(t, names, name)
}

func TestControlCreateTransformAndOutputPipesData(t *testing.T) {
	loop, handle, ctx, cancel := newTestLoop(t)
	defer cancel()
	go loop.Run(ctx)

	rec := &recordingOutput{}
	_, err := handle.SendWait(ctx, CreateBlockingOutput{Plugin: "p", Element: "rec", Body: rec}, time.Second)
	require.NoError(t, err)

	_, err = handle.SendWait(ctx, CreateSource{
		Plugin:  "p",
		Element: "cpu",
		Body:    stubSource{},
		Trigger: trigger.AtInterval(5 * time.Millisecond),
	}, time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestControlShutdownDrainsAllManagers(t *testing.T) {
	loop, handle, ctx, cancel := newTestLoop(t)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	rec := &recordingOutput{}
	_, err := handle.SendWait(ctx, CreateBlockingOutput{Plugin: "p", Element: "rec", Body: rec}, time.Second)
	require.NoError(t, err)
	_, err = handle.SendWait(ctx, CreateSource{
		Plugin:  "p",
		Element: "cpu",
		Body:    stubSource{},
		Trigger: trigger.AtInterval(5 * time.Millisecond),
	}, time.Second)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = handle.SendWait(ctx, Shutdown{}, 2*time.Second)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("control loop did not return after shutdown")
	}
}

func TestControlDispatchTimeoutWhenChannelFull(t *testing.T) {
	_, handle, ctx, cancel := newTestLoop(t)
	defer cancel()
	// Fill the request channel without a loop consuming it.
	for i := 0; i < 8; i++ {
		_ = handle.Dispatch(ctx, ListElements{}, time.Millisecond)
	}
	err := handle.Dispatch(ctx, ListElements{}, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}
