package campaign

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// NextDelay returns a delay in milliseconds drawn uniformly from
// [minMs, maxMs] inclusive. Swapped bounds are tolerated; negative bounds
// clamp to zero.
func NextDelay(rng *rand.Rand, minMs, maxMs int64) int64 {
	if minMs > maxMs {
		minMs, maxMs = maxMs, minMs
	}
	minMs = max(minMs, 0)
	maxMs = max(maxMs, 0)
	if minMs == maxMs {
		return minMs
	}
	span := maxMs - minMs + 1
	if rng == nil {
		return minMs + rand.Int64N(span)
	}
	return minMs + rng.Int64N(span)
}

// Pacer throttles outbound sends with a randomized delay between recipients.
// Bounds can be changed at runtime (config reload); the next sample uses them.
type Pacer struct {
	mu       sync.Mutex
	rng      *rand.Rand
	min, max time.Duration
}

func NewPacer(minDelay, maxDelay time.Duration) *Pacer {
	return &Pacer{min: minDelay, max: maxDelay}
}

// NewSeededPacer returns a pacer with a deterministic sequence.
func NewSeededPacer(minDelay, maxDelay time.Duration, seed uint64) *Pacer {
	return &Pacer{min: minDelay, max: maxDelay, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (p *Pacer) Apply(minDelay, maxDelay time.Duration) {
	p.mu.Lock()
	p.min, p.max = minDelay, maxDelay
	p.mu.Unlock()
}

func (p *Pacer) Bounds() (time.Duration, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.min, p.max
}

// Next samples a fresh delay.
func (p *Pacer) Next() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	ms := NextDelay(p.rng, p.min.Milliseconds(), p.max.Milliseconds())
	return time.Duration(ms) * time.Millisecond
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
