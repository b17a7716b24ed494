package measurement

// Buffer is an ordered, non-deduplicated sequence of points. It is the
// mutable unit exchanged between sources, transforms and outputs.
type Buffer struct {
	points []Point
}

// NewBuffer creates an empty buffer with the given capacity hint.
func NewBuffer(capacityHint int) *Buffer {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Buffer{points: make([]Point, 0, capacityHint)}
}

func (b *Buffer) Push(p Point) { b.points = append(b.points, p) }

func (b *Buffer) Len() int { return len(b.points) }

func (b *Buffer) IsEmpty() bool { return len(b.points) == 0 }

// Points returns the underlying slice; callers must not retain it across a
// Reset.
func (b *Buffer) Points() []Point { return b.points }

// ForEach iterates over the points, allowing a transform to mutate each one
// in place via the returned pointer's dereference.
func (b *Buffer) ForEach(f func(*Point)) {
	for i := range b.points {
		f(&b.points[i])
	}
}

// Filter removes points for which keep returns false, compacting in place.
func (b *Buffer) Filter(keep func(Point) bool) {
	out := b.points[:0]
	for _, p := range b.points {
		if keep(p) {
			out = append(out, p)
		}
	}
	b.points = out
}

// Reset empties the buffer while keeping its backing array, so the next
// flush cycle can reuse the capacity (mirrors the source runtime's
// "allocate a new buffer with capacity hinted by the previous length",
// spec.md §4.5, except here we reuse rather than reallocate).
func (b *Buffer) Reset() { b.points = b.points[:0] }

// Accumulator is the append-only handle exposed to a Source's Poll method;
// it wraps a Buffer without exposing Filter/Reset/Points to probe code.
type Accumulator struct {
	buf *Buffer
}

func NewAccumulator(buf *Buffer) *Accumulator { return &Accumulator{buf: buf} }

func (a *Accumulator) Push(p Point) { a.buf.Push(p) }
