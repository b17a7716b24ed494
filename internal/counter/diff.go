// Package counter implements overflow-correcting differencing for
// monotonic, wrap-capable hardware counters (RAPL energy registers, NVML
// total energy, powercap), as described in spec.md §4.1.
package counter

// Kind tags which variant an Update result is.
type Kind int

const (
	FirstTime Kind = iota
	Difference
	CorrectedDifference
)

// Update is the result of a single Diff.Update call.
type Update struct {
	Kind  Kind
	Delta uint64
}

// Diff keeps the previous sample behind a simple owned value inside the
// caller's source task; no shared state is needed (spec.md §9).
type Diff struct {
	previous  uint64
	hasPrev   bool
	maxValue  uint64
}

// New returns a Diff for a counter whose maximum representable value
// (inclusive) is maxValue.
func New(maxValue uint64) *Diff {
	return &Diff{maxValue: maxValue}
}

// Update feeds the next sample and returns the classified delta. On the
// very first call it returns FirstTime and just stores current. On
// subsequent calls, current >= previous yields an ordinary Difference;
// current < previous is assumed to be a single wrap at maxValue and
// yields a CorrectedDifference. previous is always advanced to current.
func (d *Diff) Update(current uint64) Update {
	if !d.hasPrev {
		d.previous = current
		d.hasPrev = true
		return Update{Kind: FirstTime}
	}
	prev := d.previous
	d.previous = current
	if current >= prev {
		return Update{Kind: Difference, Delta: current - prev}
	}
	delta := (d.maxValue - prev) + current + 1
	return Update{Kind: CorrectedDifference, Delta: delta}
}
