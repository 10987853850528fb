package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// StandardLogger writes formatted entries to a single writer. Entries logged through
// the *Context methods also carry the run, target and stage stored by ContextWithTrace.
type StandardLogger struct {
	mu        *sync.Mutex
	level     Level
	output    io.Writer
	formatter Formatter
	fields    []Field
}

// NewStandardLogger builds a logger that writes text to stdout at info level
// unless options say otherwise.
func NewStandardLogger(options ...Option) *StandardLogger {
	log := &StandardLogger{
		mu:        &sync.Mutex{},
		level:     LevelInfo,
		output:    os.Stdout,
		formatter: &TextFormatter{TimestampFormat: time.RFC3339},
	}
	for _, opt := range options {
		if opt != nil {
			opt(log)
		}
	}
	if log.output == nil {
		log.output = os.Stdout
	}
	if log.formatter == nil {
		log.formatter = &TextFormatter{TimestampFormat: time.RFC3339}
	}
	return log
}

// Option configures a StandardLogger during construction.
type Option func(*StandardLogger)

// WithLevel sets the minimum level that is written.
func WithLevel(level Level) Option {
	return func(l *StandardLogger) {
		l.level = level
	}
}

// WithOutput redirects entries to w.
func WithOutput(w io.Writer) Option {
	return func(l *StandardLogger) {
		l.output = w
		if tf, ok := l.formatter.(*TextFormatter); ok {
			tf.Output = w
		}
	}
}

// WithFormatter replaces the entry formatter.
func WithFormatter(formatter Formatter) Option {
	return func(l *StandardLogger) {
		l.formatter = formatter
	}
}

func (l *StandardLogger) Debug(format string, args ...interface{}) {
	l.emit(LevelDebug, fmt.Sprintf(format, args...), l.fields)
}

func (l *StandardLogger) Info(format string, args ...interface{}) {
	l.emit(LevelInfo, fmt.Sprintf(format, args...), l.fields)
}

func (l *StandardLogger) Warn(format string, args ...interface{}) {
	l.emit(LevelWarn, fmt.Sprintf(format, args...), l.fields)
}

func (l *StandardLogger) Error(format string, args ...interface{}) {
	l.emit(LevelError, fmt.Sprintf(format, args...), l.fields)
}

func (l *StandardLogger) DebugContext(ctx context.Context, msg string, fields ...Field) {
	l.emit(LevelDebug, msg, l.contextFields(ctx, fields))
}

func (l *StandardLogger) InfoContext(ctx context.Context, msg string, fields ...Field) {
	l.emit(LevelInfo, msg, l.contextFields(ctx, fields))
}

func (l *StandardLogger) WarnContext(ctx context.Context, msg string, fields ...Field) {
	l.emit(LevelWarn, msg, l.contextFields(ctx, fields))
}

func (l *StandardLogger) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	l.emit(LevelError, msg, l.contextFields(ctx, fields))
}

// With returns a child logger that prefixes every entry with fields. The child
// shares the parent's writer and lock but has its own level.
func (l *StandardLogger) With(fields ...Field) Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	return &StandardLogger{
		mu:        l.mu,
		level:     l.level,
		output:    l.output,
		formatter: l.formatter,
		fields:    append(merged, fields...),
	}
}

func (l *StandardLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *StandardLogger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// contextFields orders fields as: logger defaults, trace identifiers, call site.
func (l *StandardLogger) contextFields(ctx context.Context, fields []Field) []Field {
	trace := traceFieldsFromContext(ctx)
	all := make([]Field, 0, len(l.fields)+len(trace)+len(fields))
	all = append(all, l.fields...)
	all = append(all, trace...)
	return append(all, fields...)
}

func (l *StandardLogger) emit(level Level, msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	entry := &Entry{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  append([]Field(nil), fields...),
	}

	out, err := l.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to format log entry: %v\n", err)
		return
	}
	if _, err := l.output.Write(out); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write log entry: %v\n", err)
	}
}
