package log

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// formatter renders a logrus.Entry through a user-supplied pattern
// string containing any of %time, %level, %field, %msg, %caller, %func,
// %goroutine. Unlike logrus's built-in formatters this lets an operator
// choose exactly which tokens appear and in what order via
// LoggerConfig.Pattern.
type formatter struct {
	pattern string
	time    string
}

func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	replacer := strings.NewReplacer(
		"%time", entry.Time.Format(f.time),
		"%level", entry.Level.String(),
		"%field", joinFields(entry),
		"%msg", entry.Message,
		"%caller", callSite(entry),
		"%func", callerFunc(entry),
		"%goroutine", goroutineID(),
	)
	return []byte(replacer.Replace(f.pattern)), nil
}

// callSite renders "package/file.go:line" for the log call site,
// preferring logrus's own caller capture and falling back to
// runtime.Caller when report-caller is disabled.
func callSite(entry *logrus.Entry) string {
	if entry.HasCaller() {
		return fmt.Sprintf("%s/%s:%d", callerPackage(entry.Caller.Function), baseName(entry.Caller.File), entry.Caller.Line)
	}
	if _, file, line, ok := runtime.Caller(8); ok {
		return fmt.Sprintf("unknown/%s:%d", baseName(file), line)
	}
	return "unknown"
}

// callerFunc renders the bare function or method name, stripping the
// package-qualified prefix logrus/runtime normally include.
func callerFunc(entry *logrus.Entry) string {
	if entry.HasCaller() {
		return lastSegment(entry.Caller.Function)
	}
	if pc, _, _, ok := runtime.Caller(8); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			return lastSegment(fn.Name())
		}
	}
	return "unknown"
}

// goroutineID extracts the numeric id from the calling goroutine's own
// stack dump — the only way the standard library exposes it.
func goroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	stack := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if fields := strings.Fields(stack); len(fields) > 0 {
		return fields[0]
	}
	return "unknown"
}

func joinFields(entry *logrus.Entry) string {
	fields := make([]string, 0, len(entry.Data))
	for key, val := range entry.Data {
		s, ok := val.(string)
		if !ok {
			s = fmt.Sprint(val)
		}
		fields = append(fields, key+"="+s)
	}
	return strings.Join(fields, ",")
}

func baseName(path string) string {
	if i := strings.LastIndex(path, "/"); i != -1 {
		return path[i+1:]
	}
	return path
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "."); i != -1 {
		return name[i+1:]
	}
	return name
}

// callerPackage recovers the package name from a fully qualified
// function name such as "alumet/internal/pipeline/control.(*Loop).run".
func callerPackage(fn string) string {
	if fn == "" {
		return ""
	}
	dot := strings.Index(fn, ".")
	if dot == -1 {
		return ""
	}
	return baseName(fn[:dot])
}
