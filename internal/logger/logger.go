// Package logger provides the logging context that is passed down through the
// registration pipeline. There is no process-wide logger: every component that
// reports progress receives an ILogger, and callers that need to silence a
// noisy sub-step wrap it in a Latch.
package logger

// LogLevel - log level type
type LogLevel int

const (
	// LogDebug - DEBUG log level
	LogDebug LogLevel = iota

	// LogInfo - INFO log level
	LogInfo

	// LogError - ERROR log level (does not call os.Exit!)
	LogError
)

var logLevelPrefix = map[LogLevel]string{
	LogDebug: "DEBUG",
	LogInfo:  "INFO",
	LogError: "ERROR",
}

// String returns the prefix printed in front of messages of this level
func (l LogLevel) String() string {
	if p, ok := logLevelPrefix[l]; ok {
		return p
	}
	return "UNKNOWN"
}

// ILogger - Generic logger interface
type ILogger interface {
	Printf(level LogLevel, format string, a ...interface{})
	Debugf(format string, a ...interface{})
	Infof(format string, a ...interface{})
	Errorf(format string, a ...interface{})

	SetLogLevel(level LogLevel)
	GetLogLevel() LogLevel
}

// Latch raises the minimum level of l to level until the returned function is
// called, at which point the previous level is restored. A latch never lowers
// the level: latching an already quieter logger is a no-op.
//
//	restore := logger.Latch(log, logger.LogError)
//	defer restore()
func Latch(l ILogger, level LogLevel) func() {
	if l == nil {
		return func() {}
	}
	prev := l.GetLogLevel()
	if level > prev {
		l.SetLogLevel(level)
	}
	return func() {
		l.SetLogLevel(prev)
	}
}
