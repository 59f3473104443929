package logging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogrusAdapter adapts logrus to the pool logging interface. It is the
// adapter New wires in by default when a caller does not supply its own
// Logger, matching the ambient logging stack the rest of the module
// carries.
type LogrusAdapter struct {
	logger *logrus.Logger
	level  LogLevel
}

// NewLogrusAdapter creates a new logrus adapter
func NewLogrusAdapter(logger *logrus.Logger) *LogrusAdapter {
	if logger == nil {
		logger = logrus.New()
	}

	adapter := &LogrusAdapter{
		logger: logger,
		level:  INFO, // Default level
	}

	// Set initial level based on logrus level
	switch logger.GetLevel() {
	case logrus.DebugLevel:
		adapter.level = DEBUG
	case logrus.InfoLevel:
		adapter.level = INFO
	case logrus.WarnLevel:
		adapter.level = WARN
	case logrus.ErrorLevel:
		adapter.level = ERROR
	case logrus.FatalLevel:
		adapter.level = FATAL
	}

	return adapter
}

func (l *LogrusAdapter) Debug(ctx context.Context, msg string, fields ...Field) {
	l.logWithFields(logrus.DebugLevel, ctx, msg, nil, fields...)
}

func (l *LogrusAdapter) Info(ctx context.Context, msg string, fields ...Field) {
	l.logWithFields(logrus.InfoLevel, ctx, msg, nil, fields...)
}

func (l *LogrusAdapter) Warn(ctx context.Context, msg string, fields ...Field) {
	l.logWithFields(logrus.WarnLevel, ctx, msg, nil, fields...)
}

func (l *LogrusAdapter) Error(ctx context.Context, msg string, err error, fields ...Field) {
	l.logWithFields(logrus.ErrorLevel, ctx, msg, err, fields...)
}

func (l *LogrusAdapter) Fatal(ctx context.Context, msg string, err error, fields ...Field) {
	l.logWithFields(logrus.FatalLevel, ctx, msg, err, fields...)
}

func (l *LogrusAdapter) LogQuery(ctx context.Context, query string, args []interface{}, duration time.Duration, err error) {
	fields := []Field{
		String("query", query),
		Duration("duration", duration),
		Any("args", args),
	}

	if err != nil {
		l.Error(ctx, "Query failed", err, fields...)
	} else {
		l.Debug(ctx, "Query executed", fields...)
	}
}

func (l *LogrusAdapter) LogSlowQuery(ctx context.Context, query string, args []interface{}, duration time.Duration, threshold time.Duration) {
	if duration < threshold {
		return
	}

	fields := []Field{
		String("query", query),
		Duration("duration", duration),
		Duration("threshold", threshold),
		Float64("slowness_ratio", float64(duration)/float64(threshold)),
		Any("args", args),
	}

	l.Warn(ctx, "SLOW QUERY detected", fields...)
}

func (l *LogrusAdapter) LogTransaction(ctx context.Context, event TransactionEvent, fields ...Field) {
	allFields := append([]Field{String("event", string(event))}, fields...)
	l.Debug(ctx, "Transaction event", allFields...)
}

func (l *LogrusAdapter) LogConnection(ctx context.Context, event ConnectionEvent, fields ...Field) {
	allFields := append([]Field{String("event", string(event))}, fields...)

	if event == ConnectionError {
		// Extract error from fields
		var err error
		for _, field := range fields {
			if field.Key == "error" {
				if e, ok := field.Value.(error); ok {
					err = e
					break
				}
			}
		}
		l.Error(ctx, "Connection event", err, allFields...)
	} else {
		l.Info(ctx, "Connection event", allFields...)
	}
}

func (l *LogrusAdapter) LogMetrics(ctx context.Context, metrics *PerformanceMetrics) {
	fields := []Field{
		Int64("query_count", metrics.QueryCount),
		Duration("average_latency", metrics.AverageLatency),
		Float64("error_rate", metrics.ErrorRate),
		Int64("slow_query_count", metrics.SlowQueryCount),
		Int("connections_active", metrics.ConnectionsActive),
		Int("connections_idle", metrics.ConnectionsIdle),
		Time("timestamp", metrics.Timestamp),
	}

	l.Info(ctx, "Performance metrics", fields...)
}

func (l *LogrusAdapter) SetLevel(level LogLevel) {
	l.level = level
	switch level {
	case DEBUG:
		l.logger.SetLevel(logrus.DebugLevel)
	case INFO:
		l.logger.SetLevel(logrus.InfoLevel)
	case WARN:
		l.logger.SetLevel(logrus.WarnLevel)
	case ERROR:
		l.logger.SetLevel(logrus.ErrorLevel)
	case FATAL:
		l.logger.SetLevel(logrus.FatalLevel)
	}
}

func (l *LogrusAdapter) GetLevel() LogLevel {
	return l.level
}

func (l *LogrusAdapter) IsEnabled(level LogLevel) bool {
	return level >= l.level
}

func (l *LogrusAdapter) WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, "request_id", requestID)
}

func (l *LogrusAdapter) WithFields(fields ...Field) Logger {
	logrusFields := make(logrus.Fields)
	for _, field := range fields {
		logrusFields[field.Key] = field.Value
	}

	newLogger := l.logger.WithFields(logrusFields)
	return &LogrusAdapter{
		logger: newLogger.Logger,
		level:  l.level,
	}
}

func (l *LogrusAdapter) logWithFields(level logrus.Level, ctx context.Context, msg string, err error, fields ...Field) {
	if !l.logger.IsLevelEnabled(level) {
		return
	}

	logrusFields := make(logrus.Fields)

	// Add request ID from context
	if requestID := l.getRequestID(ctx); requestID != "" {
		logrusFields["request_id"] = requestID
	}

	// Add fields
	for _, field := range fields {
		logrusFields[field.Key] = field.Value
	}

	// Add error if present
	if err != nil {
		logrusFields["error"] = err.Error()
	}

	entry := l.logger.WithFields(logrusFields)
	entry.Log(level, msg)
}

func (l *LogrusAdapter) getRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	if requestID, ok := ctx.Value("request_id").(string); ok {
		return requestID
	}

	return ""
}

// NewLogrusLogger creates a new logrus-based logger with default
// configuration: JSON output at info level. This is the Logger New falls
// back to when a caller passes nil.
func NewLogrusLogger() Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	return NewLogrusAdapter(logger)
}

// LoggerFactory provides a way to create different types of loggers
type LoggerFactory struct{}

// NewLoggerFactory creates a new logger factory
func NewLoggerFactory() *LoggerFactory {
	return &LoggerFactory{}
}

// CreateLogger creates a logger of the specified type
func (lf *LoggerFactory) CreateLogger(loggerType string, config interface{}) (Logger, error) {
	switch strings.ToLower(loggerType) {
	case "standard":
		if cfg, ok := config.(*LoggerConfig); ok {
			return NewStandardLogger(cfg), nil
		}
		return NewStandardLogger(nil), nil

	case "logrus":
		if logger, ok := config.(*logrus.Logger); ok {
			return NewLogrusAdapter(logger), nil
		}
		return NewLogrusLogger(), nil

	case "noop":
		return NewNoOpLogger(), nil

	default:
		return nil, fmt.Errorf("unsupported logger type: %s", loggerType)
	}
}

// GetSupportedLoggers returns a list of supported logger types
func (lf *LoggerFactory) GetSupportedLoggers() []string {
	return []string{"standard", "logrus", "noop"}
}
