package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Pacer serializes calls to a rate-limited provider by enforcing a minimum
// interval between consecutive calls per key. Free-tier APIs reject bursts,
// so the fetch loop waits out the remainder of the interval before each call.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval, last: make(map[string]time.Time)}
}

// Wait blocks until at least the configured interval has passed since the
// previous Wait for key, or until ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context, key string) error {
	p.mu.Lock()
	now := time.Now()
	var sleep time.Duration
	if prev, ok := p.last[key]; ok {
		if elapsed := now.Sub(prev); elapsed < p.interval {
			sleep = p.interval - elapsed
		}
	}
	p.last[key] = now.Add(sleep)
	p.mu.Unlock()

	if sleep <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sleep):
		return nil
	}
}
