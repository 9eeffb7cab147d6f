// Package gate runs work only while a predicate over a bus value holds.
package gate

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"blecopter-go/bus"
	"blecopter-go/x/logx"
	"blecopter-go/x/panicx"
)

const DefaultRestartDelay = 100 * time.Millisecond

type options struct {
	name  string
	delay time.Duration
	log   logrus.FieldLogger
}

type Option func(*options)

// WithName labels the gate's log records.
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithRestartDelay sets how long to wait before restarting work that
// returned on its own while the predicate still held.
func WithRestartDelay(d time.Duration) Option { return func(o *options) { o.delay = d } }

func WithLogger(l logrus.FieldLogger) Option { return func(o *options) { o.log = l } }

// RunWhile starts work while pred holds on the reader's latest value and
// cancels it when pred turns false. It waits for work to return before
// evaluating pred again, so anything work acquired has been released by then.
// A reader with no value yet counts as false. RunWhile returns ctx.Err()
// once ctx ends.
func RunWhile[T any](ctx context.Context, r *bus.Reader[T], pred func(T) bool, work func(context.Context), opts ...Option) error {
	o := options{name: "gate", delay: DefaultRestartDelay}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = logx.Discard()
	}
	log := o.log.WithField("gate", o.name)

	holds := func() bool {
		v, ok := r.Current()
		return ok && pred(v)
	}

	for {
		r.Take()
		if !holds() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.Ready():
			}
			continue
		}

		log.Debug("open")
		stopped := runOnce(ctx, r, holds, work)
		switch {
		case ctx.Err() != nil:
			log.Debug("closed: shutdown")
			return ctx.Err()
		case stopped:
			log.Debug("closed")
			continue
		}

		// Work returned on its own; restart after the delay unless the
		// value changes first.
		log.Debug("work returned")
		t := time.NewTimer(o.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-r.Ready():
			t.Stop()
		case <-t.C:
		}
	}
}

// runOnce runs work until it returns or pred flips false. It reports whether
// the gate closed the work. A panic in work is raised again on the caller's
// goroutine once work has returned.
func runOnce[T any](ctx context.Context, r *bus.Reader[T], holds func() bool, work func(context.Context)) bool {
	var box panicx.Box
	defer box.Rethrow()
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		box.Run(func() { work(wctx) })
	}()

	for {
		select {
		case <-done:
			return false
		case <-ctx.Done():
			cancel()
			<-done
			return false
		case <-r.Ready():
			r.Take()
			if holds() {
				continue
			}
			cancel()
			<-done
			return true
		}
	}
}
