package logger

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockLogger records log entries in memory for assertions in tests. Loggers derived
// with With share the parent's entry store and prepend their fields.
type MockLogger struct {
	store  *mockStore
	fields []Field
}

type mockStore struct {
	mu      sync.Mutex
	entries []MockEntry
	level   Level
}

// MockEntry stores a single log emission.
type MockEntry struct {
	Level   Level
	Message string
	Fields  []Field
}

// Field returns the value of the named field and whether it was present.
func (e MockEntry) Field(key string) (interface{}, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// NewMockLogger creates a MockLogger with the lowest log level.
func NewMockLogger() *MockLogger {
	return &MockLogger{store: &mockStore{level: LevelDebug}}
}

func (m *MockLogger) Debug(format string, args ...interface{}) { m.log(LevelDebug, format, args...) }
func (m *MockLogger) Info(format string, args ...interface{})  { m.log(LevelInfo, format, args...) }
func (m *MockLogger) Warn(format string, args ...interface{})  { m.log(LevelWarn, format, args...) }
func (m *MockLogger) Error(format string, args ...interface{}) { m.log(LevelError, format, args...) }

func (m *MockLogger) DebugContext(ctx context.Context, msg string, fields ...Field) {
	m.logContext(ctx, LevelDebug, msg, fields...)
}

func (m *MockLogger) InfoContext(ctx context.Context, msg string, fields ...Field) {
	m.logContext(ctx, LevelInfo, msg, fields...)
}

func (m *MockLogger) WarnContext(ctx context.Context, msg string, fields ...Field) {
	m.logContext(ctx, LevelWarn, msg, fields...)
}

func (m *MockLogger) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	m.logContext(ctx, LevelError, msg, fields...)
}

// With returns a logger sharing this mock's entries with extra constant fields.
func (m *MockLogger) With(fields ...Field) Logger {
	return &MockLogger{
		store:  m.store,
		fields: append(append([]Field{}, m.fields...), fields...),
	}
}

// SetLevel adjusts the minimum log level stored.
func (m *MockLogger) SetLevel(level Level) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.level = level
}

// GetLevel returns the minimum level stored.
func (m *MockLogger) GetLevel() Level {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return m.store.level
}

func (m *MockLogger) log(level Level, format string, args ...interface{}) {
	m.record(level, fmt.Sprintf(format, args...), nil)
}

func (m *MockLogger) logContext(ctx context.Context, level Level, msg string, fields ...Field) {
	all := append(traceFieldsFromContext(ctx), fields...)
	m.record(level, msg, all)
}

func (m *MockLogger) record(level Level, msg string, fields []Field) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	if level < m.store.level {
		return
	}

	m.store.entries = append(m.store.entries, MockEntry{
		Level:   level,
		Message: msg,
		Fields:  append(append([]Field{}, m.fields...), fields...),
	})
}

// GetEntries returns a copy of all stored entries.
func (m *MockLogger) GetEntries() []MockEntry {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return append([]MockEntry(nil), m.store.entries...)
}

// HasEntry reports whether an entry with the provided level contains the substring.
func (m *MockLogger) HasEntry(level Level, substring string) bool {
	for _, entry := range m.GetEntries() {
		if entry.Level == level && strings.Contains(entry.Message, substring) {
			return true
		}
	}
	return false
}

// CountEntries counts entries recorded with the supplied level.
func (m *MockLogger) CountEntries(level Level) int {
	count := 0
	for _, entry := range m.GetEntries() {
		if entry.Level == level {
			count++
		}
	}
	return count
}

// Reset clears all stored entries.
func (m *MockLogger) Reset() {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.entries = nil
}
