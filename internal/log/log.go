// Package log is a small writer-backed leveled logger, in the style of the
// teacher's cmd/dlv-mcp/log.go, injected into gdbserver.Server rather than
// used as a global.
package log

import (
	"fmt"
	"io"
	"time"
)

// Logger is the leveled logging capability gdbserver.Server and its
// collaborators depend on.
type Logger interface {
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type writerLogger struct {
	writer io.Writer
}

var _ Logger = (*writerLogger)(nil)

// New returns a Logger that writes one timestamped line per call to w.
func New(w io.Writer) Logger {
	return &writerLogger{writer: w}
}

func (l *writerLogger) Infof(format string, args ...interface{}) {
	l.writeLog("INFO", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Debugf(format string, args ...interface{}) {
	l.writeLog("DEBUG", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Warnf(format string, args ...interface{}) {
	l.writeLog("WARN", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Errorf(format string, args ...interface{}) {
	l.writeLog("ERROR", fmt.Sprintf(format, args...))
}

func (l *writerLogger) writeLog(level, msg string) {
	ts := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(l.writer, "%s %s %s\n", ts, level, msg)
}

// Nop is a Logger that discards everything, used by tests that don't care
// about log output.
type Nop struct{}

var _ Logger = Nop{}

func (Nop) Infof(string, ...interface{})  {}
func (Nop) Debugf(string, ...interface{}) {}
func (Nop) Warnf(string, ...interface{})  {}
func (Nop) Errorf(string, ...interface{}) {}
