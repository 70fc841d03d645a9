package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogFormat selects how entries are rendered.
type LogFormat int

const (
	// FormatText renders one aligned human-readable line per entry,
	// the default for the stderr sink an operator watches live.
	FormatText LogFormat = iota
	// FormatJSON renders one JSON object per line, the default for
	// file sinks that downstream QA tooling parses to correlate
	// injected faults with client-observed failures.
	FormatJSON
)

// StructuredLoggerConfig configures a StructuredLogger.
type StructuredLoggerConfig struct {
	// Level is the minimum level emitted.
	Level LogLevel

	// Output receives rendered entries. Ignored when Rotation is set;
	// nil without Rotation means stderr.
	Output io.Writer

	// Format selects text or JSON rendering.
	Format LogFormat

	// Rotation, when set, writes to a size-rotated file instead of
	// Output.
	Rotation *RotationConfig
}

// DefaultStructuredLoggerConfig is stderr, text, INFO - what the
// engine uses when no log sink is configured at all.
func DefaultStructuredLoggerConfig() *StructuredLoggerConfig {
	return &StructuredLoggerConfig{
		Level:  INFO,
		Output: os.Stderr,
		Format: FormatText,
	}
}

// StructuredLogger renders leveled, field-carrying log entries. It
// satisfies pkg/logsink's Sink contract, so the dispatcher and the
// mount lifecycle log through it without knowing whether entries land
// on stderr, a rotated file, or (via pkg/logsink's HTTP sink) a remote
// collector.
type StructuredLogger struct {
	mu      sync.Mutex
	level   LogLevel
	format  LogFormat
	out     io.Writer
	rotator *LogRotator
}

// NewStructuredLogger builds a logger from config; a nil config gets
// the defaults.
func NewStructuredLogger(config *StructuredLoggerConfig) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultStructuredLoggerConfig()
	}

	l := &StructuredLogger{level: config.Level, format: config.Format, out: config.Output}
	if config.Rotation != nil {
		rotator, err := NewLogRotator(*config.Rotation)
		if err != nil {
			return nil, err
		}
		l.rotator = rotator
		l.out = rotator
	}
	if l.out == nil {
		l.out = os.Stderr
	}
	return l, nil
}

// SetLevel changes the minimum emitted level at runtime.
func (l *StructuredLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel reports the minimum emitted level.
func (l *StructuredLogger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *StructuredLogger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DEBUG, message, fields)
}

func (l *StructuredLogger) Info(message string, fields ...map[string]interface{}) {
	l.log(INFO, message, fields)
}

func (l *StructuredLogger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WARN, message, fields)
}

func (l *StructuredLogger) Error(message string, fields ...map[string]interface{}) {
	l.log(ERROR, message, fields)
}

// Close closes the rotated file, if any. Stderr and caller-supplied
// writers are left alone.
func (l *StructuredLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

func (l *StructuredLogger) log(level LogLevel, message string, fieldMaps []map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	merged := mergeFields(fieldMaps)
	now := time.Now().UTC()

	var line []byte
	if l.format == FormatJSON {
		line = renderJSON(now, level, message, merged)
	} else {
		line = renderText(now, level, message, merged)
	}
	l.out.Write(line)
}

func mergeFields(fieldMaps []map[string]interface{}) map[string]interface{} {
	switch len(fieldMaps) {
	case 0:
		return nil
	case 1:
		return fieldMaps[0]
	}
	merged := make(map[string]interface{})
	for _, m := range fieldMaps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

func renderJSON(ts time.Time, level LogLevel, message string, fields map[string]interface{}) []byte {
	entry := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["time"] = ts.Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["message"] = message

	line, err := json.Marshal(entry)
	if err != nil {
		// A field that cannot marshal (a channel, a cycle) must not
		// lose the entry itself.
		line, _ = json.Marshal(map[string]interface{}{
			"time":    ts.Format(time.RFC3339Nano),
			"level":   level.String(),
			"message": message,
			"error":   fmt.Sprintf("unmarshalable fields: %v", err),
		})
	}
	return append(line, '\n')
}

func renderText(ts time.Time, level LogLevel, message string, fields map[string]interface{}) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", ts.Format("2006-01-02T15:04:05.000Z"), level.String(), message)

	// Sorted keys keep lines diffable across runs of the same
	// scenario.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte('\n')
	return []byte(b.String())
}
