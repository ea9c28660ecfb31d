// Package testutil holds helpers shared by package tests.
package testutil

import (
	"sync"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
)

// MockLogger implements logging.Logger and records every entry. Children
// created with With or Named share the parent's record.
type MockLogger struct {
	rec    *record
	name   string
	fields []logging.Field
}

type record struct {
	mu      sync.Mutex
	entries []LogMessage
}

// LogMessage is one captured entry. Fields include those added through With.
type LogMessage struct {
	Level   string
	Logger  string
	Message string
	Fields  []logging.Field
}

// Field returns the value of key and whether it was set.
func (m LogMessage) Field(key string) (interface{}, bool) {
	for i := len(m.Fields) - 1; i >= 0; i-- {
		if m.Fields[i].Key == key {
			return m.Fields[i].Value, true
		}
	}
	return nil, false
}

func NewMockLogger() *MockLogger {
	return &MockLogger{rec: &record{}}
}

func (m *MockLogger) log(level, msg string, fields []logging.Field) {
	all := make([]logging.Field, 0, len(m.fields)+len(fields))
	all = append(append(all, m.fields...), fields...)
	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	m.rec.entries = append(m.rec.entries, LogMessage{Level: level, Logger: m.name, Message: msg, Fields: all})
}

func (m *MockLogger) Debug(msg string, fields ...logging.Field) { m.log(logging.LevelDebug, msg, fields) }
func (m *MockLogger) Info(msg string, fields ...logging.Field)  { m.log(logging.LevelInfo, msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...logging.Field)  { m.log(logging.LevelWarn, msg, fields) }
func (m *MockLogger) Error(msg string, fields ...logging.Field) { m.log(logging.LevelError, msg, fields) }

// Fatal records the entry; it does not exit.
func (m *MockLogger) Fatal(msg string, fields ...logging.Field) { m.log("fatal", msg, fields) }

func (m *MockLogger) With(fields ...logging.Field) logging.Logger {
	child := *m
	child.fields = append(append([]logging.Field(nil), m.fields...), fields...)
	return &child
}

func (m *MockLogger) Named(name string) logging.Logger {
	child := *m
	if m.name == "" {
		child.name = name
	} else {
		child.name = m.name + "." + name
	}
	return &child
}

// GetMessages returns a copy of all entries.
func (m *MockLogger) GetMessages() []LogMessage {
	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	return append([]LogMessage(nil), m.rec.entries...)
}

// Filter returns the entries logged at level.
func (m *MockLogger) Filter(level string) []LogMessage {
	var out []LogMessage
	for _, e := range m.GetMessages() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

func (m *MockLogger) Clear() {
	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	m.rec.entries = nil
}

// HasMessage reports whether msg was logged at level.
func (m *MockLogger) HasMessage(level, msg string) bool {
	for _, e := range m.Filter(level) {
		if e.Message == msg {
			return true
		}
	}
	return false
}

//Personal.AI order the ending
