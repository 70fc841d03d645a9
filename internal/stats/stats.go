// Package stats implements the statistics and trigger oracle: the
// thread-safe counters the dispatcher updates on every call, and the
// pure functions that turn those counters into timing/count fault
// trigger decisions.
package stats

import (
	"sync"
	"time"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/opkind"
)

// Stats is the process-singleton counter record. All mutation and
// reads go through a single mutex; the trigger oracle's pure functions
// never lock it themselves, operating instead on a Snapshot.
type Stats struct {
	mu sync.Mutex

	startTime    time.Time
	totalOps     uint64
	perOpCounts  [17]uint64
	bytesRead    uint64
	bytesWritten uint64
}

// New creates a Stats record with start_time=now.
func New() *Stats {
	return &Stats{startTime: time.Now()}
}

// RecordOp increments total_operation_count and the per-kind count.
// Every dispatch contributes here regardless of outcome.
func (s *Stats) RecordOp(kind opkind.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalOps++
	if int(kind) >= 0 && int(kind) < len(s.perOpCounts) {
		s.perOpCounts[kind]++
	}
}

// RecordBytes adds to bytes_read if kind=read, bytes_written if
// kind=write; no-op for any other kind.
func (s *Stats) RecordBytes(kind opkind.Kind, n int64) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case opkind.Read:
		s.bytesRead += uint64(n)
	case opkind.Write:
		s.bytesWritten += uint64(n)
	}
}

// Snapshot is a consistent point-in-time view of the counters, taken
// under the stats mutex. The trigger oracle and the control API's
// /stats endpoint both consume this rather than touching Stats
// directly, so a single dispatch's timing and count reads agree.
type Snapshot struct {
	StartTime    time.Time          `json:"start_time"`
	TotalOps     uint64             `json:"total_operations"`
	PerOpCounts  map[string]uint64  `json:"per_operation_counts"`
	BytesRead    uint64             `json:"bytes_read"`
	BytesWritten uint64             `json:"bytes_written"`
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	perOp := make(map[string]uint64, len(opkind.All))
	for _, k := range opkind.All {
		perOp[k.String()] = s.perOpCounts[k]
	}

	return Snapshot{
		StartTime:    s.startTime,
		TotalOps:     s.totalOps,
		PerOpCounts:  perOp,
		BytesRead:    s.bytesRead,
		BytesWritten: s.bytesWritten,
	}
}
