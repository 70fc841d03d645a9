package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/errors"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/recovery"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/retry"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/utils"
)

// HTTPSink forwards log entries as newline-delimited JSON to a central
// QA log collector. Delivery runs through a recovery.RecoveryManager:
// failures are retried with backoff, and a collector that keeps failing
// trips a circuit breaker so the outage degrades to "logs dropped",
// never to blocking the dispatcher.
type HTTPSink struct {
	url      string
	level    utils.LogLevel
	client   *http.Client
	recovery *recovery.RecoveryManager
}

// NewHTTPSink creates a sink that posts each log entry to url.
func NewHTTPSink(url string, level utils.LogLevel) (*HTTPSink, error) {
	cfg := recovery.DefaultRecoveryConfig()
	cfg.RetryConfig = retry.Config{
		MaxAttempts:     3,
		InitialDelay:    50 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		RetryableErrors: []errors.ErrorCode{errors.ErrCodeLogSinkDegraded},
	}
	return &HTTPSink{
		url:      url,
		level:    level,
		client:   &http.Client{Timeout: 5 * time.Second},
		recovery: recovery.NewRecoveryManager(cfg),
	}, nil
}

type wireEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (h *HTTPSink) send(level, message string, fields ...map[string]interface{}) {
	var merged map[string]interface{}
	if len(fields) > 0 {
		merged = fields[0]
	}
	entry := wireEntry{Timestamp: time.Now(), Level: level, Message: message, Fields: merged}
	body, err := json.Marshal(entry)
	if err != nil {
		return
	}

	_ = h.recovery.Execute(context.Background(), "logsink-http", "deliver", func() error {
		resp, err := h.client.Post(h.url, "application/json", bytes.NewReader(body))
		if err != nil {
			return errors.NewError(errors.ErrCodeLogSinkDegraded, "log delivery failed").WithCause(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return errors.NewError(errors.ErrCodeLogSinkDegraded,
				fmt.Sprintf("collector returned %d", resp.StatusCode))
		}
		return nil
	})
}

func (h *HTTPSink) Debug(message string, fields ...map[string]interface{}) {
	if h.level <= utils.DEBUG {
		h.send("DEBUG", message, fields...)
	}
}

func (h *HTTPSink) Info(message string, fields ...map[string]interface{}) {
	if h.level <= utils.INFO {
		h.send("INFO", message, fields...)
	}
}

func (h *HTTPSink) Warn(message string, fields ...map[string]interface{}) {
	if h.level <= utils.WARN {
		h.send("WARN", message, fields...)
	}
}

func (h *HTTPSink) Error(message string, fields ...map[string]interface{}) {
	h.send("ERROR", message, fields...)
}

// Close flushes nothing (HTTP delivery is synchronous-per-call) but
// satisfies the Sink contract.
func (h *HTTPSink) Close() error { return nil }
