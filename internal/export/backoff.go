package export

import (
	"context"
	"time"
)

// backoff produces the delivery retry delays: a fixed initial value that
// doubles on every retry. No jitter and no cap; the attempt budget bounds
// the total wait.
type backoff struct {
	initial time.Duration
	cur     time.Duration
}

func newBackoff(initial time.Duration) *backoff {
	return &backoff{initial: initial}
}

func (b *backoff) next() time.Duration {
	if b.cur <= 0 {
		b.cur = b.initial
	} else {
		b.cur *= 2
	}
	return b.cur
}

// wait sleeps for the next delay without blocking the runtime, returning
// early if ctx is cancelled.
func (b *backoff) wait(ctx context.Context) error {
	timer := time.NewTimer(b.next())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
