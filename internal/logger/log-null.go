package logger

// NullLogger - For mocking out in tests
type NullLogger struct {
	logLevel LogLevel
}

func (l *NullLogger) Printf(level LogLevel, format string, a ...interface{}) {
	// We do nothing!
}
func (l *NullLogger) Debugf(format string, a ...interface{}) {
	// We do nothing!
}
func (l *NullLogger) Infof(format string, a ...interface{}) {
	// We do nothing!
}
func (l *NullLogger) Errorf(format string, a ...interface{}) {
	// We do nothing!
}

func (l *NullLogger) SetLogLevel(level LogLevel) {
	l.logLevel = level
}
func (l *NullLogger) GetLogLevel() LogLevel {
	return l.logLevel
}
