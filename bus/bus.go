// bus.go
package bus

import (
	"context"
	"sync"
)

// -----------------------------------------------------------------------------
// Modes
// -----------------------------------------------------------------------------

// Mode selects what a reader created after a publish can see.
type Mode uint8

const (
	// Retained channels keep the last value for late readers. A late reader
	// sees it through Current and receives it as its first change.
	Retained Mode = iota
	// Ephemeral channels only deliver to readers that existed at publish time.
	Ephemeral
)

func (m Mode) String() string {
	if m == Ephemeral {
		return "ephemeral"
	}
	return "retained"
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

// Bus is the registry of channels. Channels are added during initialisation
// and the set is frozen with Seal.
type Bus struct {
	mu     sync.Mutex
	name   string
	names  []string
	sealed bool
}

// New creates an empty bus.
func New(name string) *Bus {
	return &Bus{name: name}
}

// Seal freezes the channel set. Registering afterwards panics.
func (b *Bus) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

// Names lists the registered channels in registration order.
func (b *Bus) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

func (b *Bus) add(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		panic("bus " + b.name + ": register after seal: " + name)
	}
	for _, n := range b.names {
		if n == name {
			panic("bus " + b.name + ": duplicate channel: " + name)
		}
	}
	b.names = append(b.names, name)
}

// Register adds a typed channel to b.
func Register[T any](b *Bus, name string, mode Mode) *Channel[T] {
	b.add(name)
	return &Channel[T]{
		name:   name,
		mode:   mode,
		notify: make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------
// Channel
// -----------------------------------------------------------------------------

// Channel holds at most one value: the most recent publish.
type Channel[T any] struct {
	name string
	mode Mode

	mu     sync.Mutex
	seq    uint64
	val    T
	notify chan struct{} // closed and replaced on every publish
}

func (c *Channel[T]) Name() string { return c.name }
func (c *Channel[T]) Mode() Mode   { return c.mode }

// Publish overwrites the slot and wakes every reader. It never blocks.
func (c *Channel[T]) Publish(v T) {
	c.mu.Lock()
	c.seq++
	c.val = v
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
}

// Peek returns the retained value. Ephemeral channels always report false.
func (c *Channel[T]) Peek() (T, bool) {
	var zero T
	if c.mode == Ephemeral {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq == 0 {
		return zero, false
	}
	return c.val, true
}

// Subscribe returns an independent reader.
func (c *Channel[T]) Subscribe() *Reader[T] {
	r := &Reader[T]{ch: c}
	if c.mode == Ephemeral {
		c.mu.Lock()
		r.base = c.seq
		r.seen = c.seq
		c.mu.Unlock()
	}
	return r
}

// -----------------------------------------------------------------------------
// Reader
// -----------------------------------------------------------------------------

// Reader tracks which publish it last observed. A Reader must be used by a
// single task.
type Reader[T any] struct {
	ch   *Channel[T]
	base uint64 // publishes at or below base are invisible (ephemeral)
	seen uint64
}

var closed = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Channel returns the channel this reader observes.
func (r *Reader[T]) Channel() *Channel[T] { return r.ch }

// Current returns the latest visible value without waiting and without
// marking it as seen.
func (r *Reader[T]) Current() (T, bool) {
	var zero T
	c := r.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq == 0 || c.seq <= r.base {
		return zero, false
	}
	return c.val, true
}

// Ready returns a channel that is closed while a publish newer than the last
// observed one exists. Use it in select together with Take.
func (r *Reader[T]) Ready() <-chan struct{} {
	c := r.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq > r.seen {
		return closed
	}
	return c.notify
}

// Take returns the newest value if it has not been observed yet and marks it
// as seen.
func (r *Reader[T]) Take() (T, bool) {
	var zero T
	c := r.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq <= r.seen {
		return zero, false
	}
	r.seen = c.seq
	return c.val, true
}

// WaitChanged blocks until a publish newer than the last observed one exists
// and returns its value. Intermediate publishes may be skipped; values are
// never observed out of order.
func (r *Reader[T]) WaitChanged(ctx context.Context) (T, error) {
	for {
		if v, ok := r.Take(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-r.Ready():
		}
	}
}
