package counter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffSequence(t *testing.T) {
	d := New(100)

	u := d.Update(10)
	assert.Equal(t, FirstTime, u.Kind)

	u = d.Update(20)
	assert.Equal(t, Difference, u.Kind)
	assert.Equal(t, uint64(10), u.Delta)

	u = d.Update(90)
	assert.Equal(t, Difference, u.Kind)
	assert.Equal(t, uint64(70), u.Delta)

	u = d.Update(5)
	assert.Equal(t, CorrectedDifference, u.Kind)
	assert.Equal(t, uint64(16), u.Delta) // (100-90)+5+1
}

func TestDiffInvariantSumOfDeltas(t *testing.T) {
	// No overflow: sum of deltas == last - first.
	d := New(1000)
	samples := []uint64{5, 12, 40, 41, 900}
	d.Update(samples[0])
	var sum uint64
	for _, s := range samples[1:] {
		u := d.Update(s)
		assert.Equal(t, Difference, u.Kind)
		sum += u.Delta
	}
	assert.Equal(t, samples[len(samples)-1]-samples[0], sum)
}

func TestDiffInvariantSingleOverflow(t *testing.T) {
	d := New(100)
	first := uint64(90)
	last := uint64(5)
	d.Update(first)
	u := d.Update(last)
	assert.Equal(t, CorrectedDifference, u.Kind)
	assert.Equal(t, (100-first)+1+last, u.Delta)
}
