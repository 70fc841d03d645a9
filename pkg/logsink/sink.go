// Package logsink implements the log sink named in the global
// configuration: a pluggable destination for the engine's structured
// log lines, independent of the faults it injects into intercepted
// filesystem calls.
//
// Two implementations are provided. A local sink writes to a rotating
// file via pkg/utils.LogRotator. A remote sink forwards entries over
// HTTP to a central QA log collector; because network delivery can
// legitimately fail and retrying it is harmless (unlike anything on the
// dispatch hot path, where every outcome is final), it runs through
// pkg/recovery's retry and circuit-breaker machinery so a flaky
// collector degrades log delivery instead of the mount itself.
package logsink

import (
	"fmt"
	"os"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/utils"
)

// Sink is the engine's thread-safe logging collaborator. The dispatcher
// and everything around it write through this interface rather than
// doing direct stdio.
type Sink interface {
	Debug(message string, fields ...map[string]interface{})
	Info(message string, fields ...map[string]interface{})
	Warn(message string, fields ...map[string]interface{})
	Error(message string, fields ...map[string]interface{})
	Close() error
}

// Open resolves a log sink identifier (the global `log_file` setting)
// into a concrete Sink:
//
//   - ""               -> stderr, no rotation
//   - "http://..." or
//     "https://..."    -> a remote HTTP sink, see NewHTTPSink
//   - any other value   -> a local rotating file at that path
func Open(sinkID string, level utils.LogLevel) (Sink, error) {
	if sinkID == "" {
		logger, err := utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
			Level:  level,
			Output: os.Stderr,
			Format: utils.FormatText,
		})
		if err != nil {
			return nil, fmt.Errorf("logsink: stderr sink: %w", err)
		}
		return logger, nil
	}

	if isURL(sinkID) {
		return NewHTTPSink(sinkID, level)
	}

	logger, err := utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  level,
		Format: utils.FormatJSON,
		Rotation: &utils.RotationConfig{
			Filename:   sinkID,
			MaxSize:    100,
			MaxBackups: 10,
			Compress:   true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("logsink: file sink %s: %w", sinkID, err)
	}
	return logger, nil
}

func isURL(s string) bool {
	return len(s) >= 7 && (s[:7] == "http://" || (len(s) >= 8 && s[:8] == "https://"))
}
