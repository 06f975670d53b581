package channel

import (
	"context"
	"math/rand"
	"time"
)

const maxRetryBackoff = time.Minute

// retryBackoff returns the wait before retry number attempt (1-based):
// quadratic growth with jitter, capped at maxRetryBackoff.
func retryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Duration(attempt*attempt) * time.Second
	if base > maxRetryBackoff {
		base = maxRetryBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
	return min(base+jitter, maxRetryBackoff)
}

// sleepCtx waits for d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
