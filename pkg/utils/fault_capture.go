package utils

import (
	"sync"
	"time"
)

// CaptureEvent is one injected fault as the dispatcher saw it: which
// operation kind it hit, which fault kind fired, and any extra fields
// (error code, delay, corrupted byte count).
type CaptureEvent struct {
	Time      time.Time              `json:"time"`
	Operation string                 `json:"operation"`
	Fault     string                 `json:"fault"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// CaptureSession is a bounded in-memory record of injected faults,
// opened by an operator running at DEBUG level who wants to correlate
// client-observed failures with what the engine actually injected,
// without grepping the log sink.
type CaptureSession struct {
	id  string
	max int

	mu      sync.Mutex
	started time.Time
	stopped time.Time
	events  []CaptureEvent
	dropped int
}

func (s *CaptureSession) record(ev CaptureEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) >= s.max {
		// Keep the earliest faults of the run; the tail is countable
		// via dropped.
		s.dropped++
		return
	}
	s.events = append(s.events, ev)
}

// Events returns a copy of the captured fault events in arrival order.
func (s *CaptureSession) Events() []CaptureEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CaptureEvent(nil), s.events...)
}

// Stats summarizes the session: total faults, counts by fault kind and
// by operation kind, and how many events overflowed the buffer.
func (s *CaptureSession) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	byFault := make(map[string]int)
	byOperation := make(map[string]int)
	for _, ev := range s.events {
		byFault[ev.Fault]++
		byOperation[ev.Operation]++
	}

	end := s.stopped
	if end.IsZero() {
		end = time.Now()
	}

	return map[string]interface{}{
		"session":        s.id,
		"faults":         len(s.events),
		"dropped":        s.dropped,
		"by_fault":       byFault,
		"by_operation":   byOperation,
		"window_seconds": end.Sub(s.started).Seconds(),
	}
}

// CaptureLog fans injected-fault events out to every open session. The
// dispatcher records unconditionally; with no session open a record is
// a mutex acquisition and nothing else, cheap enough for the hot path.
type CaptureLog struct {
	mu       sync.RWMutex
	sessions map[string]*CaptureSession
}

var faultCapture = &CaptureLog{sessions: make(map[string]*CaptureSession)}

// FaultCapture returns the process-wide capture log.
func FaultCapture() *CaptureLog { return faultCapture }

// StartSession opens a capture session holding up to maxEvents fault
// events (0 means 4096). An existing session with the same id is
// replaced.
func (l *CaptureLog) StartSession(id string, maxEvents int) *CaptureSession {
	if maxEvents <= 0 {
		maxEvents = 4096
	}
	s := &CaptureSession{id: id, max: maxEvents, started: time.Now()}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[id] = s
	return s
}

// StopSession closes the session and returns it for a final Stats or
// Events read; nil if no such session is open.
func (l *CaptureLog) StopSession(id string) *CaptureSession {
	l.mu.Lock()
	s := l.sessions[id]
	delete(l.sessions, id)
	l.mu.Unlock()

	if s != nil {
		s.mu.Lock()
		s.stopped = time.Now()
		s.mu.Unlock()
	}
	return s
}

// Record delivers one injected fault to every open session.
func (l *CaptureLog) Record(operation, fault string, fields map[string]interface{}) {
	l.mu.RLock()
	if len(l.sessions) == 0 {
		l.mu.RUnlock()
		return
	}
	sessions := make([]*CaptureSession, 0, len(l.sessions))
	for _, s := range l.sessions {
		sessions = append(sessions, s)
	}
	l.mu.RUnlock()

	ev := CaptureEvent{Time: time.Now(), Operation: operation, Fault: fault, Fields: fields}
	for _, s := range sessions {
		s.record(ev)
	}
}
