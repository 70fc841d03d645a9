// Package fault implements the fault policy engine: pure evaluators,
// one per fault kind, each consulting its own optional configuration
// record and a pseudo-random Source to decide whether to fire. The
// timing and operation-count faults live in internal/stats instead,
// because they are driven by counters rather than chance.
package fault

import (
	"math"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/config"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/opkind"
)

// Policy bundles the four probability-gated fault records (error, delay,
// partial, corruption) with the Source they draw Bernoulli trials from.
// Timing and operation-count faults are not here: they are driven by the
// trigger oracle in internal/stats, not by chance.
type Policy struct {
	Error      *config.ErrorFault
	Corruption *config.CorruptionFault
	Delay      *config.DelayFault
	Partial    *config.PartialFault
	Source     Source
}

// New builds a Policy from the probability-gated fault records carried
// by cfg, drawing from src.
func New(cfg *config.Config, src Source) *Policy {
	return &Policy{
		Error:      cfg.Error,
		Corruption: cfg.Corruption,
		Delay:      cfg.Delay,
		Partial:    cfg.Partial,
		Source:     src,
	}
}

// fires reports a single Bernoulli(p) trial: true with probability p.
// Source.Float64 returns a value in [0, 1), so p=0 never fires and
// p=1 always fires.
func (p *Policy) fires(probability float64) bool {
	return p.Source.Float64() < probability
}

// TryError reports the error fault's decision for kind: the error code
// to return immediately, or ok=false if the fault is absent, kind is
// out of its mask, or the trial did not fire.
func (p *Policy) TryError(kind opkind.Kind) (code int, ok bool) {
	f := p.Error
	if f == nil || !f.Mask.Has(kind) || !p.fires(f.Probability) {
		return 0, false
	}
	return f.ErrorCode, true
}

// TryDelay reports the delay fault's decision for kind: the number of
// milliseconds the caller must block for, or ok=false if it did not
// fire.
func (p *Policy) TryDelay(kind opkind.Kind) (ms int, ok bool) {
	f := p.Delay
	if f == nil || !f.Mask.Has(kind) || !p.fires(f.Probability) {
		return 0, false
	}
	return f.DelayMs, true
}

// TryPartial returns the effective byte count for a read/write of
// requestedSize: either requestedSize unchanged, or
// max(1, floor(requestedSize*factor)) if the partial fault fires for
// kind.
func (p *Policy) TryPartial(kind opkind.Kind, requestedSize int) int {
	f := p.Partial
	if f == nil || !f.Mask.Has(kind) || !p.fires(f.Probability) {
		return requestedSize
	}
	reduced := int(math.Floor(float64(requestedSize) * f.Factor))
	if reduced < 1 {
		reduced = 1
	}
	return reduced
}

// TryCorrupt mutates buf in place if the corruption fault fires for
// kind, reporting whether it did. The caller owns buf and must pass a
// copy of the original payload, never the client's own buffer directly.
// TryCorrupt itself has no way to enforce that, since by the time it
// receives a []byte the backing array is already shared with whatever
// the caller built it from.
//
// count = max(ceil(len(buf)*percentage/100), 1 if percentage>0 else 0).
// Positions are chosen independently and may repeat, which can make the
// number of distinct differing bytes smaller than count.
func (p *Policy) TryCorrupt(kind opkind.Kind, buf []byte) bool {
	f := p.Corruption
	if f == nil || !f.Mask.Has(kind) || len(buf) == 0 || !p.fires(f.Probability) {
		return false
	}

	count := int(math.Ceil(float64(len(buf)) * f.Percentage / 100))
	if f.Percentage > 0 && count < 1 {
		count = 1
	}
	if count <= 0 {
		return false
	}

	for i := 0; i < count; i++ {
		pos := p.Source.Intn(len(buf))
		buf[pos] = byte(p.Source.Intn(256))
	}
	return true
}
