// Package logging provides the gateway's structured logger: leveled,
// field-based entries with a pluggable sink. The shape mirrors the
// document the Logs collection expects (§6): timestamp, level, message,
// module, line, plus a free-form "log" tag callers set per component.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Logger is the logging contract every component depends on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
}

// Field is one structured log attribute.
type Field struct {
	Key   string
	Value interface{}
}

// Level is the logger's severity gate.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// Sink receives a fully-built log entry after it has been emitted to the
// primary writer. Sinks must never block or panic; logging errors are
// swallowed by design (a Logs-collection outage must not stop the
// gateway).
type Sink interface {
	Accept(entry map[string]interface{})
}

type logger struct {
	mu     sync.RWMutex
	level  Level
	format string // "json" or "text"
	output io.Writer
	fields map[string]interface{}
	sinks  []Sink
}

var (
	defaultLogger *logger
	once          sync.Once
)

// Initialize sets up the process-wide default logger. Only the first call
// takes effect.
func Initialize(level, format string, output io.Writer) {
	once.Do(func() {
		defaultLogger = &logger{
			level:  parseLevel(level),
			format: format,
			output: output,
			fields: make(map[string]interface{}),
		}
	})
}

// GetLogger returns the default logger, initializing it with sane defaults
// if nothing has called Initialize yet.
func GetLogger() Logger {
	if defaultLogger == nil {
		Initialize("info", "json", os.Stdout)
	}
	return defaultLogger
}

// AddSink registers a sink on the default logger (e.g. the Mongo-backed
// Logs collection writer).
func AddSink(s Sink) {
	l := GetLogger().(*logger)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// New creates a standalone logger instance, independent of the process
// default.
func New(level, format string, output io.Writer) Logger {
	return &logger{
		level:  parseLevel(level),
		format: format,
		output: output,
		fields: make(map[string]interface{}),
	}
}

func (l *logger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields...) }
func (l *logger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields...) }
func (l *logger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields...) }
func (l *logger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields...) }
func (l *logger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields...)
	os.Exit(1)
}

func (l *logger) WithField(key string, value interface{}) Logger {
	n := l.clone()
	n.fields[key] = value
	return n
}

func (l *logger) WithFields(fields map[string]interface{}) Logger {
	n := l.clone()
	for k, v := range fields {
		n.fields[k] = v
	}
	return n
}

func (l *logger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *logger) log(level Level, msg string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level {
		return
	}

	entry := l.createEntry(level, msg, fields...)

	var out []byte
	var err error
	if l.format == "json" {
		out, err = json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: failed to marshal entry: %v\n", err)
			return
		}
		out = append(out, '\n')
	} else {
		out = []byte(l.formatText(entry))
	}
	l.output.Write(out)

	for _, sink := range l.sinks {
		sink.Accept(entry)
	}
}

func (l *logger) createEntry(level Level, msg string, fields ...Field) map[string]interface{} {
	entry := make(map[string]interface{})
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = levelString(level)
	entry["message"] = msg

	if pc, file, line, ok := runtime.Caller(3); ok {
		entry["line"] = line
		if fn := runtime.FuncForPC(pc); fn != nil {
			entry["module"] = filepath.Base(fn.Name())
		} else {
			entry["module"] = filepath.Base(file)
		}
	}

	for k, v := range l.fields {
		entry[k] = v
	}
	for _, f := range fields {
		entry[f.Key] = f.Value
	}
	if _, ok := entry["log"]; !ok {
		entry["log"] = entry["message"]
	}
	return entry
}

func (l *logger) formatText(entry map[string]interface{}) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %-5s %s", entry["timestamp"], entry["level"], entry["message"]))
	for k, v := range entry {
		switch k {
		case "timestamp", "level", "message":
			continue
		}
		sb.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	sb.WriteString("\n")
	return sb.String()
}

func (l *logger) clone() *logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &logger{
		level:  l.level,
		format: l.format,
		output: l.output,
		fields: fields,
		sinks:  l.sinks,
	}
}

func parseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}

func levelString(level Level) string {
	switch level {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Field constructors.

func String(key, value string) Field          { return Field{Key: key, Value: value} }
func Int(key string, value int) Field          { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field        { return Field{Key: key, Value: value} }
func Any(key string, value interface{}) Field  { return Field{Key: key, Value: value} }
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Package-level convenience funcs against the process default.

func Debug(msg string, fields ...Field) { GetLogger().Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { GetLogger().Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { GetLogger().Warn(msg, fields...) }
func Error(msg string, fields ...Field) { GetLogger().Error(msg, fields...) }
func Fatal(msg string, fields ...Field) { GetLogger().Fatal(msg, fields...) }
