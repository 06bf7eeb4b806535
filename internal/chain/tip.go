package chain

import (
	"context"
	"time"
)

// TipSignal wakes waiters when the chain may have advanced.
type TipSignal interface {
	// Next blocks until the next tip change (or poll tick) or ctx is done.
	Next(ctx context.Context) error
}

// PollSignal is a TipSignal that fires on a fixed interval.
type PollSignal struct {
	Interval time.Duration
}

// Next implements TipSignal.
func (p PollSignal) Next(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
