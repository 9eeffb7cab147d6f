package timex

import (
	"context"
	"time"
)

// Period returns the tick period for a requested frequency.
// freqHz==0 is coerced to 1 to avoid division by zero.
func Period(freqHz uint32) time.Duration {
	if freqHz == 0 {
		freqHz = 1
	}
	return time.Second / time.Duration(freqHz)
}

// Sleep waits for d or until ctx ends. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
