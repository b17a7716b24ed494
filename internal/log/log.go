// Package log provides the agent-wide structured Logger used by the
// builder, every element runtime, and every bundled plugin.
package log

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the interface every package in this module logs through, so
// the logrus-backed implementation below can be swapped without
// touching call sites.
type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool

	// Close flushes and releases every appender that buffers state (the
	// file rotator, the Loki shipper). Call once, during shutdown.
	Close() error
}

// LoggerConfig is the `log` table of the agent's TOML configuration.
type LoggerConfig struct {
	Level   string `mapstructure:"level"`
	Pattern string `mapstructure:"pattern"`
	Time    string `mapstructure:"time"`
	// Prefixed selects x-cray/logrus-prefixed-formatter's colorized
	// "[time] LEVEL field: msg" layout for console output instead of the
	// custom Pattern-driven formatter below; Pattern/Time are ignored
	// when set.
	Prefixed  bool             `mapstructure:"prefixed"`
	Appenders []AppenderConfig `mapstructure:"appenders"`
}

type AppenderConfig struct {
	Type    string          `mapstructure:"type"` // console | file | loki
	File    FileAppenderOpt `mapstructure:"file"`
	Loki    LokiConfig      `mapstructure:"loki"`
}

// DefaultConfig returns a console-only logger at info level.
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:     "info",
		Pattern:   "%time [%level] %field %msg",
		Time:      time.RFC3339,
		Appenders: []AppenderConfig{{Type: "console"}},
	}
}

var (
	once   sync.Once
	logger Logger
	mu     sync.RWMutex
)

// GetLogger returns the process-wide Logger. Init must run first; until
// then it returns a default console logger so early callers (e.g. flag
// parsing errors) never see a nil Logger.
func GetLogger() Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return defaultLogger()
	}
	return l
}

// Init builds the process-wide Logger from cfg. Safe to call once;
// subsequent calls are no-ops, matching the teacher's singleton pattern.
func Init(cfg LoggerConfig) error {
	var initErr error
	once.Do(func() {
		l, err := build(cfg)
		if err != nil {
			initErr = fmt.Errorf("log: %w", err)
			return
		}
		mu.Lock()
		logger = l
		mu.Unlock()
	})
	return initErr
}

// Entry returns the *logrus.Entry backing the process-wide Logger, for
// packages (the pipeline builder, in particular) that want to pass a
// real logrus handle through instead of depending on this package's
// Logger interface. Falls back to a fresh default logger's entry if
// Init hasn't run yet, matching GetLogger's fallback.
func Entry() *logrus.Entry {
	l := GetLogger()
	if la, ok := l.(*logrusAdapter); ok {
		return la.entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Close flushes and releases every appender backing the process-wide
// Logger. A no-op if Init was never called.
func Close() error {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Close()
}
