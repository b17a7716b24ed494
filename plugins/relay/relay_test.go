package relay

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alumet/internal/registry"
	"alumet/pkg/measurement"
	"alumet/pkg/plugin"
	"alumet/pkg/resources"
	"alumet/pkg/units"
)

func TestRelayRoundTripOverLocalServer(t *testing.T) {
	reg := registry.New(nil)
	metricID, err := reg.Sender().Register(measurement.Metric{
		Name:      "cpu_power",
		ValueType: measurement.F64,
		Unit:      units.Unit{Base: units.Watt},
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var received []*measurement.Buffer
	srv := NewServer(reg.Sender(), func(sessionID string, buf *measurement.Buffer) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, buf)
	}, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(lis)
	defer srv.Stop()

	client, err := NewClient(ClientConfig{Addresses: []string{lis.Addr().String()}}, nil)
	require.NoError(t, err)
	defer client.Close()

	buf := measurement.NewBuffer(1)
	buf.Push(measurement.NewPoint(time.Now(), metricID, resources.CpuPackage{ID: 0}, resources.LocalMachine{}, measurement.F64Value(12.5)))

	octx := &plugin.OutputContext{Metrics: reg.Reader()}
	require.NoError(t, client.Write(buf, octx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, 1, received[0].Len())
	got := received[0].Points()[0]
	assert.Equal(t, 12.5, got.Value.F64())
	assert.Equal(t, "cpu_package", got.Resource.Kind())
	assert.Equal(t, uint64(1), srv.Accepted())
}

func TestClientRejectsEmptyAddressList(t *testing.T) {
	_, err := NewClient(ClientConfig{}, nil)
	assert.Error(t, err)
}

func TestShardKeyEmptyBufferIsStable(t *testing.T) {
	buf := measurement.NewBuffer(0)
	assert.Equal(t, "", shardKey(buf))
}
