package output

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alumet/internal/broadcast"
	"alumet/internal/naming"
	"alumet/internal/registry"
	"alumet/pkg/measurement"
	"alumet/pkg/plugin"
)

type recordingOutput struct {
	mu   sync.Mutex
	buf  []*measurement.Buffer
	fail error
}

func (o *recordingOutput) Write(buf *measurement.Buffer, ctx *plugin.OutputContext) error {
	if o.fail != nil {
		return o.fail
	}
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

func newTestBuffer() *measurement.Buffer {
	buf := measurement.NewBuffer(1)
	buf.Push(measurement.NewPoint(time.Now(), 1, nil, nil, measurement.F64Value(1)))
	return buf
}

func TestManagerBlockingOutputWritesBroadcastBuffers(t *testing.T) {
	bc := broadcast.New(8)
	reg := registry.New(nil)
	m := NewManager(bc, reg.Reader(), nil)

	rec := &recordingOutput{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := m.AddBlocking(ctx, "p", "rec", rec, Run)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond) // let the subscription register
	bc.Send(newTestBuffer())

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestManagerPauseStopsDelivery(t *testing.T) {
	bc := broadcast.New(8)
	reg := registry.New(nil)
	m := NewManager(bc, reg.Reader(), nil)

	rec := &recordingOutput{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	name, err := m.AddBlocking(ctx, "p", "rec", rec, Run)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	pat, err := naming.AsOutputNamePattern(naming.ElementPattern{
		Plugin:  naming.Exact{S: name.Plugin},
		Element: naming.Exact{S: name.Element},
	})
	require.NoError(t, err)

	n := m.SetState(pat.ElementPattern, Pause)
	assert.Equal(t, 1, n)

	bc.Send(newTestBuffer())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, rec.count())

	m.SetState(pat.ElementPattern, Run)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestManagerShutdownDrainsPending(t *testing.T) {
	bc := broadcast.New(8)
	reg := registry.New(nil)
	m := NewManager(bc, reg.Reader(), nil)

	rec := &recordingOutput{}
	ctx := context.Background()

	_, err := m.AddBlocking(ctx, "p", "rec", rec, Run)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	bc.Send(newTestBuffer())
	bc.Send(newTestBuffer())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))

	assert.Equal(t, 2, rec.count())
}

func TestManagerFatalWriteErrorRecorded(t *testing.T) {
	bc := broadcast.New(8)
	reg := registry.New(nil)
	m := NewManager(bc, reg.Reader(), nil)

	rec := &recordingOutput{fail: plugin.Fatal{Err: errors.New("disk full")}}
	ctx := context.Background()

	_, err := m.AddBlocking(ctx, "p", "rec", rec, Run)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	bc.Send(newTestBuffer())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = m.Shutdown(shutdownCtx)
	require.Error(t, err)
}

type streamingAsyncOutput struct {
	mu    sync.Mutex
	count int
}

func (o *streamingAsyncOutput) Run(ctx context.Context, buffers <-chan *measurement.Buffer, octx *plugin.OutputContext) error {
	for {
		select {
		case _, ok := <-buffers:
			if !ok {
				return nil
			}
			o.mu.Lock()
			o.count++
			o.mu.Unlock()
		case <-ctx.Done():
			return nil
		}
	}
}

func (o *streamingAsyncOutput) total() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

func TestManagerAsyncOutputConsumesStream(t *testing.T) {
	bc := broadcast.New(8)
	reg := registry.New(nil)
	m := NewManager(bc, reg.Reader(), nil)

	probe := &streamingAsyncOutput{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := m.AddAsync(ctx, "p", "stream", probe, Run)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	bc.Send(newTestBuffer())
	require.Eventually(t, func() bool { return probe.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestManagerDuplicateNameRejected(t *testing.T) {
	bc := broadcast.New(8)
	reg := registry.New(nil)
	m := NewManager(bc, reg.Reader(), nil)

	rec := &recordingOutput{}
	ctx := context.Background()
	_, err := m.AddBlocking(ctx, "p", "dup", rec, Run)
	require.NoError(t, err)
	_, err = m.AddBlocking(ctx, "p", "dup", rec, Run)
	require.Error(t, err)
}
