package log

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

type logrusAdapter struct {
	entry  *logrus.Entry
	output *MultiWriter
}

func defaultLogger() Logger {
	l, _ := build(DefaultConfig())
	return l
}

// build constructs a logrusAdapter from cfg, wiring one io.Writer per
// configured appender into a single MultiWriter.
func build(cfg LoggerConfig) (Logger, error) {
	l := logrus.New()
	if cfg.Prefixed {
		l.SetFormatter(&prefixed.TextFormatter{FullTimestamp: true})
	} else {
		pattern := cfg.Pattern
		if pattern == "" {
			pattern = DefaultConfig().Pattern
		}
		timeLayout := cfg.Time
		if timeLayout == "" {
			timeLayout = DefaultConfig().Time
		}
		l.SetFormatter(&formatter{pattern: pattern, time: timeLayout})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetReportCaller(true)

	mw := NewMultiWriter()
	if len(cfg.Appenders) == 0 {
		mw.addUnclosable(os.Stdout)
	}
	for _, a := range cfg.Appenders {
		switch a.Type {
		case "", "console", "stdout":
			mw.addUnclosable(os.Stdout)
		case "file":
			mw.AddFileAppender(a.File)
		case "loki":
			lw, err := NewLokiWriter(a.Loki)
			if err != nil {
				return nil, fmt.Errorf("building loki appender: %w", err)
			}
			mw.Add(lw)
		default:
			return nil, fmt.Errorf("unsupported log appender type %q", a.Type)
		}
	}
	l.SetOutput(mw)

	return &logrusAdapter{entry: logrus.NewEntry(l), output: mw}, nil
}

func (l *logrusAdapter) Print(args ...interface{})                 { l.entry.Print(args...) }
func (l *logrusAdapter) Printf(format string, args ...interface{}) { l.entry.Printf(format, args...) }

func (l *logrusAdapter) Trace(args ...interface{})                 { l.entry.Trace(args...) }
func (l *logrusAdapter) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }

func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusAdapter) Info(args ...interface{})                 { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusAdapter) Warn(args ...interface{})                 { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *logrusAdapter) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusAdapter) Panic(args ...interface{})                 { l.entry.Panic(args...) }
func (l *logrusAdapter) Panicf(format string, args ...interface{}) { l.entry.Panicf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value), output: l.output}
}
func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithFields(fields), output: l.output}
}
func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{entry: l.entry.WithError(err), output: l.output}
}

// Close flushes and releases every appender that holds buffered state
// (file rotation handles, the Loki shipper's background flusher). Safe
// to call on a child produced by WithField/WithFields/WithError: they
// all share the same underlying MultiWriter.
func (l *logrusAdapter) Close() error {
	if l.output == nil {
		return nil
	}
	return l.output.Close()
}

func (l *logrusAdapter) IsTraceEnabled() bool { return l.entry.Logger.IsLevelEnabled(logrus.TraceLevel) }
func (l *logrusAdapter) IsDebugEnabled() bool { return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel) }
func (l *logrusAdapter) IsInfoEnabled() bool  { return l.entry.Logger.IsLevelEnabled(logrus.InfoLevel) }
