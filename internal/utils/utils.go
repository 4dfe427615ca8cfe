package utils

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

func ShortenString(s string, l int) string {
	if len(s) > l && l != 0 {
		return fmt.Sprintf("%s...", s[:l])
	}
	return s
}

// RandomDuration returns a random duration in [min, max]. If max is not
// greater than min, min is returned.
func RandomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}

// Sleep blocks for d or until ctx is done, whichever happens first.
// It returns ctx.Err() if the sleep was interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
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

// SleepRandom sleeps for a random duration in [min, max], see Sleep.
func SleepRandom(ctx context.Context, min, max time.Duration) error {
	return Sleep(ctx, RandomDuration(min, max))
}
