package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alumet/pkg/measurement"
	"alumet/pkg/units"
)

func wattMetric(name string) measurement.Metric {
	return measurement.Metric{Name: name, ValueType: measurement.F64, Unit: units.Standard(units.Watt)}
}

func TestRegisterIdempotent(t *testing.T) {
	r := New(nil)
	m := wattMetric("power")

	id1, err := r.Register(m)
	require.NoError(t, err)
	id2, err := r.Register(m)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	reader := r.Reader()
	got, ok := reader.ByID(id1)
	require.True(t, ok)
	assert.Equal(t, m, got)
}

func TestRegisterConflictingDuplicate(t *testing.T) {
	r := New(nil)
	_, err := r.Register(wattMetric("power"))
	require.NoError(t, err)

	conflicting := measurement.Metric{Name: "power", ValueType: measurement.U64, Unit: units.Standard(units.Watt)}
	_, err = r.Register(conflicting)
	require.Error(t, err)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
}

func TestCreateMetricsRename(t *testing.T) {
	r := New(nil)
	_, err := r.Register(wattMetric("power"))
	require.NoError(t, err)

	conflicting := measurement.Metric{Name: "power", ValueType: measurement.U64, Unit: units.Standard(units.Watt)}
	ids, errs := r.CreateMetrics([]measurement.Metric{conflicting}, DuplicateStrategy{Kind: DuplicateRename, Suffix: "v2"})
	require.NoError(t, errs[0])

	reader := r.Reader()
	got, ok := reader.ByID(ids[0])
	require.True(t, ok)
	assert.Equal(t, "power_v2", got.Name)
}

func TestCreateMetricsUseExisting(t *testing.T) {
	r := New(nil)
	id1, err := r.Register(wattMetric("power"))
	require.NoError(t, err)

	ids, errs := r.CreateMetrics([]measurement.Metric{wattMetric("power")}, DuplicateStrategy{Kind: DuplicateUseExisting})
	require.NoError(t, errs[0])
	assert.Equal(t, id1, ids[0])
}

func TestByNameMissing(t *testing.T) {
	r := New(nil)
	_, ok := r.Reader().ByName("nope")
	assert.False(t, ok)
}

func TestBroadcastOnRegister(t *testing.T) {
	r := New(nil)
	ch := r.Subscribe(4)

	_, err := r.Register(wattMetric("power"))
	require.NoError(t, err)

	select {
	case m := <-ch:
		assert.Equal(t, "power", m.Name)
	default:
		t.Fatal("expected a broadcast notification")
	}
}
