package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggeredAfterInterval(t *testing.T) {
	tr, err := New(AtInterval(20 * time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	outcome := tr.Next(nil)
	assert.Equal(t, Triggered, outcome)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestInterruptedByNotifier(t *testing.T) {
	tr, err := New(AtInterval(time.Hour))
	require.NoError(t, err)

	n := NewNotifier()
	n.Notify()

	outcome := tr.Next(n)
	assert.Equal(t, Interrupted, outcome)
}

func TestConstrainClampsIntervalAndFlush(t *testing.T) {
	tr, err := New(Spec{Interval: time.Millisecond, FlushRounds: 100, UpdateRounds: 1})
	require.NoError(t, err)

	tr.Constrain(Constraints{MinInterval: time.Second, MaxFlushRounds: 10})
	assert.Equal(t, time.Second, tr.Spec().Interval)
	assert.Equal(t, uint32(10), tr.Spec().FlushRounds)
}

func TestInvalidSpecRejected(t *testing.T) {
	_, err := New(Spec{Interval: 0, FlushRounds: 1, UpdateRounds: 1})
	assert.Error(t, err)

	_, err = New(Spec{Interval: time.Second, FlushRounds: 0, UpdateRounds: 1})
	assert.Error(t, err)
}
