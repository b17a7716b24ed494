package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConsoleLogger(t *testing.T) {
	l, err := build(DefaultConfig())
	require.NoError(t, err)
	assert.True(t, l.IsInfoEnabled())
	assert.False(t, l.IsDebugEnabled())
}

func TestBuildFileAppender(t *testing.T) {
	dir := t.TempDir()
	cfg := LoggerConfig{
		Level: "debug",
		Appenders: []AppenderConfig{
			{Type: "file", File: FileAppenderOpt{Filename: filepath.Join(dir, "agent.log")}},
		},
	}
	l, err := build(cfg)
	require.NoError(t, err)
	l.Info("hello")
}

func TestBuildPrefixedFormatter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Prefixed = true
	l, err := build(cfg)
	require.NoError(t, err)
	l.Info("hello")
}

func TestBuildUnsupportedAppender(t *testing.T) {
	_, err := build(LoggerConfig{Appenders: []AppenderConfig{{Type: "kafka"}}})
	assert.Error(t, err)
}

func TestWithFieldReturnsIndependentEntry(t *testing.T) {
	l, err := build(DefaultConfig())
	require.NoError(t, err)
	child := l.WithField("component", "test")
	assert.NotNil(t, child)
}

func TestCloseConsoleLoggerDoesNotCloseStdout(t *testing.T) {
	l, err := build(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	// os.Stdout must still be usable after Close: the console appender
	// is wrapped so MultiWriter.Close never closes a stream the process
	// doesn't own.
	_, err = os.Stdout.Write(nil)
	assert.NoError(t, err)
}

func TestCloseFlushesFileAppender(t *testing.T) {
	dir := t.TempDir()
	cfg := LoggerConfig{
		Level: "debug",
		Appenders: []AppenderConfig{
			{Type: "file", File: FileAppenderOpt{Filename: filepath.Join(dir, "agent.log")}},
		},
	}
	l, err := build(cfg)
	require.NoError(t, err)
	l.Info("hello")
	assert.NoError(t, l.Close())
}

func TestCloseOnChildEntryClosesSharedOutput(t *testing.T) {
	l, err := build(DefaultConfig())
	require.NoError(t, err)
	child := l.WithField("component", "test")
	assert.NoError(t, child.Close())
}
