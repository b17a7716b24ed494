package cgroup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alumet/internal/broadcast"
	"alumet/internal/pipeline/control"
	"alumet/internal/pipeline/elements/output"
	"alumet/internal/pipeline/elements/source"
	"alumet/internal/pipeline/elements/transform"
	"alumet/internal/registry"
	"alumet/internal/trigger"
	"alumet/pkg/measurement"
)

type noopSource struct{}

func (noopSource) Poll(acc *measurement.Accumulator, t time.Time) error { return nil }

func newTestControlHandle(t *testing.T) (control.Handle, context.Context, context.CancelFunc) {
	t.Helper()
	reg := registry.New(nil)
	sourcesToTransforms := make(chan *measurement.Buffer, 8)
	transformsToOutputs := broadcast.New(8)

	sm := source.NewManager(sourcesToTransforms, trigger.Constraints{}, source.DefaultPauseTimeout, nil)
	tm := transform.NewManager(sourcesToTransforms, transformsToOutputs, reg.Reader(), nil)
	om := output.NewManager(transformsToOutputs, reg.Reader(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go tm.Run(ctx)

	var once sync.Once
	closeFn := func() { once.Do(func() { close(sourcesToTransforms) }) }

	loop, handle := control.NewLoop(8, sm, tm, om, reg.Reader(), closeFn, tm.Done(), nil)
	go loop.Run(ctx)
	return handle, ctx, cancel
}

func TestReactorCreatesSourceOnNewCgroup(t *testing.T) {
	handle, ctx, cancel := newTestControlHandle(t)
	defer cancel()

	var mu sync.Mutex
	var created []string

	r := NewReactor(ReactorConfig{
		PluginName:      "cgroupmon",
		CoalesceDelay:   10 * time.Millisecond,
		DispatchTimeout: time.Second,
		Control:         handle,
		Setup: func(cg Cgroup) (*ProbeSetup, bool) {
			mu.Lock()
			created = append(created, cg.Path)
			mu.Unlock()
			return &ProbeSetup{
				Element: cg.UniqueName(),
				Source:  noopSource{},
				Trigger: trigger.AtInterval(time.Second),
			}, true
		},
	})

	reactorCtx, reactorCancel := context.WithCancel(ctx)
	defer reactorCancel()

	events := make(chan Event, 4)
	go r.coalesceAndReact(reactorCtx, events, r.logf())

	events <- Event{Hierarchy: Hierarchy{Version: V2, Root: "/sys/fs/cgroup"}, Path: "/sys/fs/cgroup/a.scope", Created: true}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(created) == 1
	}, time.Second, 10*time.Millisecond)

	resp, err := handle.SendWait(ctx, control.ListElements{}, time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, resp)
}

func TestReactorCoalescesBurstOfEvents(t *testing.T) {
	handle, ctx, cancel := newTestControlHandle(t)
	defer cancel()

	var mu sync.Mutex
	var pendingAtFlush int

	r := NewReactor(ReactorConfig{
		PluginName:      "cgroupmon",
		CoalesceDelay:   40 * time.Millisecond,
		DispatchTimeout: time.Second,
		Control:         handle,
		Setup: func(cg Cgroup) (*ProbeSetup, bool) {
			mu.Lock()
			pendingAtFlush++
			mu.Unlock()
			return nil, false
		},
	})

	reactorCtx, reactorCancel := context.WithCancel(ctx)
	defer reactorCancel()

	events := make(chan Event, 8)
	go r.coalesceAndReact(reactorCtx, events, r.logf())

	for i := 0; i < 3; i++ {
		events <- Event{Hierarchy: Hierarchy{Version: V1}, Path: "/x", Created: true}
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return pendingAtFlush == 3
	}, time.Second, 10*time.Millisecond)
}
