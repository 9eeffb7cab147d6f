// Package pinirq turns pin interrupts into debounced edge events.
package pinirq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Edge selection for IRQ.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

// Pin is an input that can raise interrupts. The handler runs in interrupt
// context and must not block.
type Pin interface {
	Get() bool
	SetIRQ(edge Edge, handler func()) error
	ClearIRQ() error
}

// Event is delivered to the consumer after inversion and debouncing.
type Event struct {
	ID    string
	Level bool
	Edge  Edge
	TS    time.Time
}

type Worker struct {
	// Written by ISR; MUST NOT block the ISR:
	isrQ chan isrEvent
	outQ chan Event

	mu     sync.Mutex
	inputs map[string]*watch

	drops atomic.Uint32
}

type isrEvent struct {
	id    string
	level bool
}

type watch struct {
	pin       Pin
	edge      Edge
	debounce  time.Duration
	invert    bool
	lastLevel bool
	lastEvent time.Time
}

func New(isrBuf, outBuf int) *Worker {
	if isrBuf <= 0 {
		isrBuf = 16
	}
	if outBuf <= 0 {
		outBuf = 16
	}
	return &Worker{
		isrQ:   make(chan isrEvent, isrBuf),
		outQ:   make(chan Event, outBuf),
		inputs: map[string]*watch{},
	}
}

// Run drains the ISR queue until ctx ends.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.isrQ:
			w.handle(ev)
		}
	}
}

func (w *Worker) Events() <-chan Event { return w.outQ }

// Register watches pin for edge. With invert set, Level reports the pin
// as active-low. The returned func clears the interrupt.
func (w *Worker) Register(id string, pin Pin, edge Edge, debounce time.Duration, invert bool) (func(), error) {
	if edge == EdgeNone {
		return func() {}, nil
	}
	// Initial logical level, so edges compare like-for-like.
	init := pin.Get() != invert
	wh := &watch{pin: pin, edge: edge, debounce: debounce, invert: invert, lastLevel: init}

	w.mu.Lock()
	w.inputs[id] = wh
	w.mu.Unlock()

	handler := func() {
		select {
		case w.isrQ <- isrEvent{id: id, level: pin.Get()}:
		default:
			w.drops.Add(1)
		}
	}
	if err := pin.SetIRQ(edge, handler); err != nil {
		w.mu.Lock()
		delete(w.inputs, id)
		w.mu.Unlock()
		return nil, err
	}

	return func() {
		w.mu.Lock()
		if cur, ok := w.inputs[id]; ok {
			_ = cur.pin.ClearIRQ()
			delete(w.inputs, id)
		}
		w.mu.Unlock()
	}, nil
}

func (w *Worker) handle(ev isrEvent) {
	w.mu.Lock()
	wh := w.inputs[ev.id]
	w.mu.Unlock()
	if wh == nil {
		return
	}
	level := ev.level != wh.invert
	now := time.Now()

	if !wh.lastEvent.IsZero() && now.Sub(wh.lastEvent) < wh.debounce {
		return
	}

	var e Edge
	switch {
	case !wh.lastLevel && level:
		e = EdgeRising
	case wh.lastLevel && !level:
		e = EdgeFalling
	}
	if wh.edge != EdgeBoth {
		switch e {
		case EdgeNone:
			// The pin settled before the ISR sampled it; trust the hardware.
			e = wh.edge
		case wh.edge:
		default:
			e = EdgeNone
		}
	}
	wh.lastLevel = level
	wh.lastEvent = now

	if e == EdgeNone {
		return
	}
	select {
	case w.outQ <- Event{ID: ev.id, Level: level, Edge: e, TS: now}:
	default:
		// drop to protect system if consumer is slow
	}
}

// Drops counts ISR events lost to a full queue.
func (w *Worker) Drops() uint32 { return w.drops.Load() }
