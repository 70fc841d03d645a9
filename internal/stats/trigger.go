package stats

import (
	"time"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/config"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/opkind"
)

// TimingTriggered reports whether the timing fault must fire for kind,
// given a snapshot taken at now. True iff the fault is enabled, kind is
// in its mask, and at least AfterMinutes have elapsed since start_time.
func TimingTriggered(snap Snapshot, f *config.TimingFault, kind opkind.Kind, now time.Time) bool {
	if f == nil || !f.Enabled || !f.Mask.Has(kind) {
		return false
	}
	elapsed := now.Sub(snap.StartTime)
	return elapsed >= time.Duration(f.AfterMinutes)*time.Minute
}

// CountTriggered reports whether the operation-count fault must fire
// for kind. True iff the fault is enabled, kind is in its mask, and
// either every_n_operations divides total_operation_count, or
// cumulative bytes read+written reached after_bytes. Both conditions
// are evaluated against the same snapshot, and neither counter is ever
// reset: once the byte threshold is crossed, every later eligible call
// trips too.
func CountTriggered(snap Snapshot, f *config.CountFault, kind opkind.Kind) bool {
	if f == nil || !f.Enabled || !f.Mask.Has(kind) {
		return false
	}

	if f.EveryNOperations > 0 && snap.TotalOps%uint64(f.EveryNOperations) == 0 {
		return true
	}

	if f.AfterBytes > 0 {
		total := int64(snap.BytesRead + snap.BytesWritten)
		if total >= f.AfterBytes {
			return true
		}
	}

	return false
}
