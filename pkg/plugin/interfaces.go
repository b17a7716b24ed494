// Package plugin declares the interfaces external collaborators (probes,
// sinks, plugins) implement. The pipeline core only ever sees these
// interfaces; it never depends on a concrete probe or sink (spec.md §6).
package plugin

import (
	"context"
	"time"

	"alumet/internal/registry"
	"alumet/pkg/measurement"
)

// Source polls one or more counters once per trigger tick.
type Source interface {
	Poll(acc *measurement.Accumulator, t time.Time) error
}

// Resettable is implemented by sources that need to clear internal state
// when paused (spec.md §4.5 step 3).
type Resettable interface {
	Reset()
}

// TransformContext is handed to Transform.Apply; it exposes a read-only
// metric registry snapshot.
type TransformContext struct {
	Metrics registry.Reader
}

// Transform mutates (or drops points from) a buffer in place.
type Transform interface {
	Apply(buf *measurement.Buffer, ctx *TransformContext) error
}

// OutputContext is handed to Output.Write; it exposes a read-only metric
// registry snapshot.
type OutputContext struct {
	Metrics registry.Reader
}

// Output consumes a finished buffer, e.g. writing it to InfluxDB, a relay
// server, or a CSV file.
type Output interface {
	Write(buf *measurement.Buffer, ctx *OutputContext) error
}

// AsyncOutput is the stream-based variant described in spec.md §4.7: it
// consumes buffers from a channel until the channel closes or ctx is
// canceled.
type AsyncOutput interface {
	Run(ctx context.Context, buffers <-chan *measurement.Buffer, octx *OutputContext) error
}
