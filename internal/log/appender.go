package log

import (
	"io"

	"go.uber.org/multierr"
)

// MultiWriter fans a single logrus output out to every configured
// appender (console, file, loki). Appenders that hold buffered state
// (the file rotator, the Loki shipper) are closed and flushed together
// when the owning Logger is closed.
type MultiWriter struct {
	writers []io.Writer
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0)}
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range m.writers {
		if _, werr := w.Write(p); werr != nil {
			err = multierr.Append(err, werr)
		}
	}
	return len(p), err
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

// unclosable wraps a writer so MultiWriter.Close never closes a stream
// the process doesn't own, such as os.Stdout.
type unclosable struct{ io.Writer }

func (m *MultiWriter) addUnclosable(w io.Writer) *MultiWriter {
	return m.Add(unclosable{w})
}

// Close closes every appender that holds resources worth flushing on
// shutdown (file rotation handles, the Loki shipper's batch buffer and
// background flusher). Appenders wrapped with addUnclosable, such as
// os.Stdout, are left alone.
func (m *MultiWriter) Close() error {
	var err error
	for _, w := range m.writers {
		closer, ok := w.(io.Closer)
		if !ok {
			continue
		}
		if cerr := closer.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}
