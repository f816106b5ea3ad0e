package stagequeue

// DefaultLogger discards everything. Projects use it until WithProjectLogger
// supplies a real backend, and queues skip their prefix decorator for it.
type DefaultLogger struct{}

var discard Logger = &DefaultLogger{}

func (l *DefaultLogger) Debug(format string, args ...interface{}) {}
func (l *DefaultLogger) Info(format string, args ...interface{})  {}
func (l *DefaultLogger) Warn(format string, args ...interface{})  {}
func (l *DefaultLogger) Error(format string, args ...interface{}) {}

// NewDefaultLogger returns the shared discarding logger
func NewDefaultLogger() Logger {
	return discard
}

// prefixLogger tags every message with the queue's project path before
// handing it to the project's logger.
type prefixLogger struct {
	prefix string
	next   Logger
}

// withPrefix decorates logger with prefix. A nil or discarding logger is
// returned as the discarding logger, and prefixing an already prefixed
// logger stacks the prefixes on a single decorator.
func withPrefix(logger Logger, prefix string) Logger {
	switch l := logger.(type) {
	case nil, *DefaultLogger:
		return discard
	case *prefixLogger:
		return &prefixLogger{prefix: l.prefix + prefix, next: l.next}
	default:
		return &prefixLogger{prefix: prefix, next: logger}
	}
}

func (l *prefixLogger) Debug(format string, args ...interface{}) {
	l.next.Debug(l.prefix+format, args...)
}

func (l *prefixLogger) Info(format string, args ...interface{}) {
	l.next.Info(l.prefix+format, args...)
}

func (l *prefixLogger) Warn(format string, args ...interface{}) {
	l.next.Warn(l.prefix+format, args...)
}

func (l *prefixLogger) Error(format string, args ...interface{}) {
	l.next.Error(l.prefix+format, args...)
}
