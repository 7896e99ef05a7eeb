package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Fields is the structured context attached to a line.
type Fields map[string]interface{}

// sink is shared by a logger and every child made with WithField.
type sink struct {
	mu      sync.Mutex
	output  io.Writer
	logFile *os.File
}

// Logger provides leveled, structured logging to stdout and optionally a file
type Logger struct {
	level      Level
	jsonFormat bool
	fields     Fields
	sink       *sink
	exit       func(int)
}

// NewLogger creates a new logger writing to stdout
func NewLogger(level Level, jsonFormat bool) *Logger {
	return &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		fields:     Fields{},
		sink:       &sink{output: os.Stdout},
		exit:       os.Exit,
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	l := NewLogger(FATAL+1, false)
	l.sink.output = io.Discard
	return l
}

// NewFileLogger creates a logger that writes to path and stdout.
// Parent directories are created as needed.
func NewFileLogger(path string, level Level, jsonFormat bool) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
	}

	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	logger := NewLogger(level, jsonFormat)
	logger.sink.output = io.MultiWriter(logFile, os.Stdout)
	logger.sink.logFile = logFile

	logger.Debug("Logger initialized", Fields{"path": path})
	return logger, nil
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output = w
}

// Level returns the minimum level that is written.
func (l *Logger) Level() Level {
	return l.level
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Fields    Fields `json:"fields,omitempty"`
}

// log writes a log entry
func (l *Logger) log(level Level, message string, fields Fields) {
	if level < l.level {
		return
	}

	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	var line string
	if l.jsonFormat {
		entry := LogEntry{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     level.String(),
			Message:   message,
			Fields:    merged,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			log.Printf("Failed to marshal log entry: %v", err)
			return
		}
		line = string(data)
	} else {
		timestamp := time.Now().Format("2006-01-02 15:04:05")
		line = fmt.Sprintf("[%s] %s: %s%s", timestamp, level.String(), message, formatFields(merged))
	}

	l.sink.mu.Lock()
	fmt.Fprintln(l.sink.output, line)
	l.sink.mu.Unlock()

	if level == FATAL {
		l.exit(1)
	}
}

// formatFields renders fields as sorted key=value pairs so lines are stable.
func formatFields(fields Fields) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func first(fields []Fields) Fields {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...Fields) {
	l.log(DEBUG, message, first(fields))
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...Fields) {
	l.log(INFO, message, first(fields))
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...Fields) {
	l.log(WARN, message, first(fields))
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...Fields) {
	l.log(ERROR, message, first(fields))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...Fields) {
	l.log(FATAL, message, first(fields))
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Fields{key: value})
}

// WithFields returns a child logger carrying extra fields.
// The child shares the parent's output.
func (l *Logger) WithFields(fields Fields) *Logger {
	newFields := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return &Logger{
		level:      l.level,
		jsonFormat: l.jsonFormat,
		fields:     newFields,
		sink:       l.sink,
		exit:       l.exit,
	}
}

// Component is shorthand for WithField("component", name).
func (l *Logger) Component(name string) *Logger {
	return l.WithField("component", name)
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Close closes the log file if opened
func (l *Logger) Close() error {
	if l.sink.logFile != nil {
		l.Debug("Logger closing")
		return l.sink.logFile.Close()
	}
	return nil
}
