package logger

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// StdOutLogger writes messages at or above its level through the standard log
// package, or to a caller-supplied writer.
type StdOutLogger struct {
	mu       sync.Mutex
	logLevel LogLevel
	out      *log.Logger
}

// NewStdOutLogger creates a logger printing messages at or above level
func NewStdOutLogger(level LogLevel) *StdOutLogger {
	return &StdOutLogger{logLevel: level}
}

// NewWriterLogger creates a logger that writes to w without timestamps
func NewWriterLogger(w io.Writer, level LogLevel) *StdOutLogger {
	return &StdOutLogger{logLevel: level, out: log.New(w, "", 0)}
}

func (l *StdOutLogger) Printf(level LogLevel, format string, a ...interface{}) {
	if level < l.GetLogLevel() {
		return
	}
	txt := logLevelPrefix[level] + ": " + fmt.Sprintf(format, a...)
	if l.out != nil {
		l.out.Println(txt)
		return
	}
	log.Println(txt)
}
func (l *StdOutLogger) Debugf(format string, a ...interface{}) {
	l.Printf(LogDebug, format, a...)
}
func (l *StdOutLogger) Infof(format string, a ...interface{}) {
	l.Printf(LogInfo, format, a...)
}
func (l *StdOutLogger) Errorf(format string, a ...interface{}) {
	l.Printf(LogError, format, a...)
}

func (l *StdOutLogger) SetLogLevel(level LogLevel) {
	l.mu.Lock()
	l.logLevel = level
	l.mu.Unlock()
}
func (l *StdOutLogger) GetLogLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logLevel
}
