package fault

import (
	"testing"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/config"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/opkind"
)

// fixedSource is a deterministic Source for tests: Float64 always
// returns the configured value, Intn always returns 0.
type fixedSource struct {
	f64 float64
}

func (s fixedSource) Float64() float64 { return s.f64 }
func (s fixedSource) Intn(n int) int   { return 0 }

func TestTryErrorFiresWithinMaskAndProbability(t *testing.T) {
	p := &Policy{
		Error:  &config.ErrorFault{Mask: opkind.Mask(0).With(opkind.Read), Probability: 0.5, ErrorCode: -5},
		Source: fixedSource{f64: 0.1},
	}
	code, ok := p.TryError(opkind.Read)
	if !ok || code != -5 {
		t.Fatalf("TryError = (%d, %v), want (-5, true)", code, ok)
	}
}

func TestTryErrorDoesNotFireOutsideMask(t *testing.T) {
	p := &Policy{
		Error:  &config.ErrorFault{Mask: opkind.Mask(0).With(opkind.Write), Probability: 1.0, ErrorCode: -5},
		Source: fixedSource{f64: 0},
	}
	if _, ok := p.TryError(opkind.Read); ok {
		t.Fatal("TryError should not fire for a kind outside the mask")
	}
}

func TestTryErrorNilFaultNeverFires(t *testing.T) {
	p := &Policy{Source: fixedSource{f64: 0}}
	if _, ok := p.TryError(opkind.Read); ok {
		t.Fatal("TryError should not fire when the fault is absent")
	}
}

func TestTryErrorRespectsProbabilityBoundary(t *testing.T) {
	p := &Policy{
		Error:  &config.ErrorFault{Mask: opkind.Mask(0).With(opkind.Read), Probability: 0.5, ErrorCode: -5},
		Source: fixedSource{f64: 0.5},
	}
	if _, ok := p.TryError(opkind.Read); ok {
		t.Fatal("a trial equal to the probability should not fire (half-open interval)")
	}
}

func TestTryDelayFires(t *testing.T) {
	p := &Policy{
		Delay:  &config.DelayFault{Mask: opkind.AllMask, Probability: 1.0, DelayMs: 250},
		Source: fixedSource{f64: 0},
	}
	ms, ok := p.TryDelay(opkind.Write)
	if !ok || ms != 250 {
		t.Fatalf("TryDelay = (%d, %v), want (250, true)", ms, ok)
	}
}

func TestTryPartialReducesSize(t *testing.T) {
	p := &Policy{
		Partial: &config.PartialFault{Mask: opkind.AllMask, Probability: 1.0, Factor: 0.25},
		Source:  fixedSource{f64: 0},
	}
	got := p.TryPartial(opkind.Read, 100)
	if got != 25 {
		t.Fatalf("TryPartial(100) = %d, want 25", got)
	}
}

func TestTryPartialNeverReturnsZero(t *testing.T) {
	p := &Policy{
		Partial: &config.PartialFault{Mask: opkind.AllMask, Probability: 1.0, Factor: 0.001},
		Source:  fixedSource{f64: 0},
	}
	got := p.TryPartial(opkind.Read, 4)
	if got < 1 {
		t.Fatalf("TryPartial should floor at 1 byte, got %d", got)
	}
}

func TestTryPartialPassesThroughWhenNotFired(t *testing.T) {
	p := &Policy{
		Partial: &config.PartialFault{Mask: opkind.AllMask, Probability: 0, Factor: 0.1},
		Source:  fixedSource{f64: 0},
	}
	got := p.TryPartial(opkind.Read, 100)
	if got != 100 {
		t.Fatalf("TryPartial with probability 0 = %d, want unchanged 100", got)
	}
}

func TestTryCorruptMutatesExpectedByteCount(t *testing.T) {
	p := &Policy{
		Corruption: &config.CorruptionFault{Mask: opkind.AllMask, Probability: 1.0, Percentage: 50},
		Source:     countingSource{},
	}
	buf := make([]byte, 10)
	if !p.TryCorrupt(opkind.Write, buf) {
		t.Fatal("TryCorrupt should fire")
	}
	// 50% of 10 bytes is 5 mutations; countingSource sends every one of
	// them to the last position with value 255, so only buf[9] changes.
	if buf[9] != 255 {
		t.Fatalf("buf[9] = %d, want 255", buf[9])
	}
	for i := 0; i < 9; i++ {
		if buf[i] != 0 {
			t.Fatalf("buf[%d] = %d, want 0 (untouched)", i, buf[i])
		}
	}
}

func TestTryCorruptAtLeastOneByteWhenPercentagePositive(t *testing.T) {
	p := &Policy{
		Corruption: &config.CorruptionFault{Mask: opkind.AllMask, Probability: 1.0, Percentage: 0.001},
		Source:     fixedSource{f64: 0},
	}
	buf := []byte{0, 0, 0, 0}
	before := append([]byte(nil), buf...)
	if !p.TryCorrupt(opkind.Write, buf) {
		t.Fatal("TryCorrupt should fire with any positive percentage")
	}
	_ = before
}

func TestTryCorruptEmptyBufferNeverFires(t *testing.T) {
	p := &Policy{
		Corruption: &config.CorruptionFault{Mask: opkind.AllMask, Probability: 1.0, Percentage: 100},
		Source:     fixedSource{f64: 0},
	}
	if p.TryCorrupt(opkind.Write, nil) {
		t.Fatal("TryCorrupt should never fire on an empty buffer")
	}
}

func TestTryCorruptOutsideMaskNeverFires(t *testing.T) {
	p := &Policy{
		Corruption: &config.CorruptionFault{Mask: opkind.Mask(0).With(opkind.Read), Probability: 1.0, Percentage: 100},
		Source:     fixedSource{f64: 0},
	}
	buf := []byte{1, 2, 3}
	if p.TryCorrupt(opkind.Write, buf) {
		t.Fatal("TryCorrupt should not fire for a kind outside the mask")
	}
}

// countingSource always picks the last valid position, so tests can
// reason about which byte was touched.
type countingSource struct{}

func (countingSource) Float64() float64 { return 0 }
func (countingSource) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return n - 1
}
