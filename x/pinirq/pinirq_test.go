package pinirq

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakePin struct {
	mu      sync.Mutex
	level   bool
	handler func()
}

func (p *fakePin) Get() bool { p.mu.Lock(); defer p.mu.Unlock(); return p.level }
func (p *fakePin) SetIRQ(_ Edge, h func()) error {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
	return nil
}
func (p *fakePin) ClearIRQ() error { p.mu.Lock(); p.handler = nil; p.mu.Unlock(); return nil }
func (p *fakePin) fire(level bool) {
	p.mu.Lock()
	p.level = level
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h()
	}
}

func expect(t *testing.T, w *Worker) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func expectNone(t *testing.T, w *Worker) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(5 * time.Millisecond):
	}
}

func TestWorker_DebounceAndEdges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := New(8, 8)
	go w.Run(ctx)

	pin := &fakePin{}
	stop, err := w.Register("dev1", pin, EdgeBoth, 10*time.Millisecond, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer stop()

	pin.fire(true)
	if ev := expect(t, w); ev.ID != "dev1" || !ev.Level || ev.Edge != EdgeRising {
		t.Fatalf("unexpected event: %+v", ev)
	}

	pin.fire(false)
	expectNone(t, w)

	time.Sleep(12 * time.Millisecond)
	pin.fire(false)
	if ev := expect(t, w); ev.Level || ev.Edge != EdgeFalling {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestWorker_InvertActiveLow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := New(8, 8)
	go w.Run(ctx)

	pin := &fakePin{level: true} // pulled up: inactive
	stop, err := w.Register("charging", pin, EdgeBoth, 0, true)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer stop()

	pin.fire(false)
	if ev := expect(t, w); !ev.Level || ev.Edge != EdgeRising {
		t.Fatalf("pulled low should read active: %+v", ev)
	}
	pin.fire(true)
	if ev := expect(t, w); ev.Level {
		t.Fatalf("released pin should read inactive: %+v", ev)
	}
}

func TestWorker_ClearStopsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := New(8, 8)
	go w.Run(ctx)

	pin := &fakePin{}
	stop, _ := w.Register("x", pin, EdgeFalling, 0, false)
	stop()
	pin.fire(true)
	pin.fire(false)
	expectNone(t, w)
}

func TestWorker_SingleEdge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := New(8, 8)
	go w.Run(ctx)

	pin := &fakePin{level: true}
	stop, _ := w.Register("int", pin, EdgeFalling, 0, false)
	defer stop()

	pin.fire(false)
	if ev := expect(t, w); ev.Edge != EdgeFalling {
		t.Fatalf("event = %+v", ev)
	}
	pin.fire(true)
	expectNone(t, w)

	// A short pulse already released when sampled still counts.
	pin.fire(true)
	if ev := expect(t, w); ev.Edge != EdgeFalling {
		t.Fatalf("event = %+v", ev)
	}
}
