package observability

// NewNopLogger returns a no-op implementation of the Logger interface
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a no-op implementation of the Logger interface
type nopLogger struct{}

func (l *nopLogger) Info(msg string, fields ...Field)             {}
func (l *nopLogger) Error(msg string, err error, fields ...Field) {}
func (l *nopLogger) Debug(msg string, fields ...Field)            {}
func (l *nopLogger) Warn(msg string, fields ...Field)             {}
func (l *nopLogger) With(fields ...Field) Logger                  { return l }
