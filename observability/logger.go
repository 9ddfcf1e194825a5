package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// NewField creates a new log field
func NewField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the interface for structured logging
type Logger interface {
	// Info logs an informational message
	Info(msg string, fields ...Field)

	// Error logs an error message
	Error(msg string, err error, fields ...Field)

	// Debug logs a debug message
	Debug(msg string, fields ...Field)

	// Warn logs a warning message
	Warn(msg string, fields ...Field)

	// With returns a logger that adds the fields to every record
	With(fields ...Field) Logger
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat represents the logging format
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// LoggerConfig contains configuration for the logger
type LoggerConfig struct {
	// Level is the minimum log level to output
	Level LogLevel `json:"level" yaml:"level" validate:"required,oneof=debug info warn error"`

	// Format is the log format (json or text)
	Format LogFormat `json:"format" yaml:"format" validate:"required,oneof=json text"`

	// ServiceName is the name of the service
	ServiceName string `json:"service_name" yaml:"service_name"`
}

// DefaultLoggerConfig returns the default logger configuration
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:  LogLevelInfo,
		Format: LogFormatJSON,
	}
}

// slogLogger is the implementation of the Logger interface using slog
type slogLogger struct {
	logger *slog.Logger
}

// NewLogger creates a new logger with the default configuration
func NewLogger() Logger {
	return NewLoggerWithConfig(DefaultLoggerConfig())
}

// NewLoggerWithConfig creates a new logger writing to stdout
func NewLoggerWithConfig(config LoggerConfig) Logger {
	return NewLoggerWithWriter(os.Stdout, config)
}

// NewLoggerWithWriter creates a new logger with a custom writer
func NewLoggerWithWriter(w io.Writer, config LoggerConfig) Logger {
	var handler slog.Handler
	if config.Format == LogFormatText {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: getLogLevel(config.Level),
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: getLogLevel(config.Level),
		})
	}

	if config.ServiceName != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.ServiceName),
		})
	}

	return &slogLogger{logger: slog.New(handler)}
}

// getLogLevel converts a LogLevel to a slog.Level
func getLogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fieldsToAttrs converts a slice of Fields to a slice of slog.Attr
func fieldsToAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, field := range fields {
		attrs = append(attrs, slog.Any(field.Key, field.Value))
	}
	return attrs
}

// Info logs an informational message
func (l *slogLogger) Info(msg string, fields ...Field) {
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, msg, fieldsToAttrs(fields)...)
}

// Error logs an error message
func (l *slogLogger) Error(msg string, err error, fields ...Field) {
	attrs := fieldsToAttrs(fields)
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

// Debug logs a debug message
func (l *slogLogger) Debug(msg string, fields ...Field) {
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, fieldsToAttrs(fields)...)
}

// Warn logs a warning message
func (l *slogLogger) Warn(msg string, fields ...Field) {
	l.logger.LogAttrs(context.Background(), slog.LevelWarn, msg, fieldsToAttrs(fields)...)
}

// With returns a logger that adds the fields to every record
func (l *slogLogger) With(fields ...Field) Logger {
	args := make([]any, 0, len(fields))
	for _, field := range fields {
		args = append(args, slog.Any(field.Key, field.Value))
	}
	return &slogLogger{logger: l.logger.With(args...)}
}
