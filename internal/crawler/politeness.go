package crawler

import (
	"context"
	"time"
)

// pauser abstracts how the crawler waits between cycles and attempts.
type pauser interface {
	// Pause waits for delay and reports false if ctx ended first.
	Pause(ctx context.Context, delay time.Duration) bool
}

type timerPauser struct{}

func (timerPauser) Pause(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
