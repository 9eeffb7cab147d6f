// Package ramp steps a value linearly towards a target.
package ramp

import (
	"context"
	"time"

	"blecopter-go/x/mathx"
	"blecopter-go/x/timex"
)

// Step receives each intermediate value.
type Step func(v int32)

// Linear moves from cur to to in steps equal increments spread over d,
// calling set after each wait. steps <= 0 or d <= 0 snaps to to. It
// reports false if ctx ended first.
func Linear(ctx context.Context, cur, to int32, d time.Duration, steps int, set Step) bool {
	if steps <= 0 || d <= 0 {
		set(to)
		return true
	}
	stepDur := mathx.Max(d/time.Duration(steps), time.Millisecond)

	delta := int64(to) - int64(cur)
	for i := 1; i < steps; i++ {
		if !timex.Sleep(ctx, stepDur) {
			return false
		}
		set(cur + int32(delta*int64(i)/int64(steps)))
	}
	if !timex.Sleep(ctx, stepDur) {
		return false
	}
	set(to)
	return true
}
