package usecase

import (
	"context"
	"time"
)

// Backoff computes the wait after a failed attempt.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	Exponential bool
}

// Delay returns the wait after the given 1-based failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 || attempt < 1 {
		return 0
	}
	d := b.Base
	if b.Exponential {
		for i := 1; i < attempt; i++ {
			d *= 2
			if b.Max > 0 && d >= b.Max {
				return b.Max
			}
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
