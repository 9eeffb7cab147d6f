// Package panicx carries a panic from a helper goroutine back to the
// goroutine that waits for it, where the task's own recover can see it.
package panicx

import "sync"

// Box holds the first panic raised by any function it ran.
type Box struct {
	mu  sync.Mutex
	v   any
	set bool
}

// Run calls fn and keeps a panic instead of letting it kill the process.
// It reports whether fn panicked.
func (b *Box) Run(fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			if !b.set {
				b.v, b.set = r, true
			}
			b.mu.Unlock()
			panicked = true
		}
	}()
	fn()
	return false
}

// Rethrow panics with the kept value, if any. Call it on the waiting
// goroutine once the helpers have returned.
func (b *Box) Rethrow() {
	b.mu.Lock()
	v, set := b.v, b.set
	b.mu.Unlock()
	if set {
		panic(v)
	}
}
