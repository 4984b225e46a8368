package logger

import (
	"encoding/json"
	"fmt"
	"time"
)

// LogLevel is one of the severities a LogEntry can carry.
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// LogEntry is a single structured log line.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Error     string                 `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Format renders the entry as "[timestamp] LEVEL message fields=... error=...\n".
func (e *LogEntry) Format() string {
	timestamp := e.Timestamp.Format("2006/01/02 15:04:05.000")

	logMsg := fmt.Sprintf("[%s] %s %s", timestamp, e.Level, e.Message)

	if len(e.Fields) > 0 {
		if fields, err := json.Marshal(e.Fields); err == nil {
			logMsg += fmt.Sprintf(" fields=%s", string(fields))
		}
	}

	if e.Error != "" {
		logMsg += fmt.Sprintf(" error=%s", e.Error)
	}

	return logMsg + "\n"
}

// NewLogEntry builds a LogEntry, stamping the current time.
func NewLogEntry(level LogLevel, msg string, err error, fields map[string]interface{}) *LogEntry {
	entry := &LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}

	if err != nil {
		entry.Error = err.Error()
	}

	return entry
}
