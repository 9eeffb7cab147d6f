package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"blecopter-go/bus"
)

// handle records acquire/release like a hardware resource would.
type handle struct {
	mu     sync.Mutex
	events []string
}

func (h *handle) record(ev string) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *handle) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func isTrue(v bool) bool { return v }

func newFlag(t *testing.T) (*bus.Channel[bool], *bus.Reader[bool]) {
	t.Helper()
	b := bus.New("test")
	ch := bus.Register[bool](b, "flag", bus.Retained)
	return ch, ch.Subscribe()
}

func TestRunWhile_NeverStartsWhileFalse(t *testing.T) {
	ch, r := newFlag(t)
	ch.Publish(false)

	var started atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- RunWhile(ctx, r, isTrue, func(ctx context.Context) {
			started.Add(1)
			<-ctx.Done()
		})
	}()

	time.Sleep(30 * time.Millisecond)
	ch.Publish(false)
	time.Sleep(30 * time.Millisecond)
	if started.Load() != 0 {
		t.Fatal("work started while predicate was false")
	}

	ch.Publish(true)
	deadline := time.After(time.Second)
	for started.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("work did not start after predicate became true")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunWhile did not return after cancel")
	}
}

func TestRunWhile_NoValueIsFalse(t *testing.T) {
	_, r := newFlag(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var started atomic.Bool
	err := RunWhile(ctx, r, func(bool) bool { return true }, func(context.Context) { started.Store(true) })
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v", err)
	}
	if started.Load() {
		t.Fatal("work started with no value on the channel")
	}
}

func TestRunWhile_FlipReleasesBeforeRestart(t *testing.T) {
	ch, r := newFlag(t)
	h := &handle{}
	running := make(chan struct{}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunWhile(ctx, r, isTrue, func(ctx context.Context) {
		h.record("acquire")
		defer h.record("release")
		running <- struct{}{}
		<-ctx.Done()
	})

	ch.Publish(true)
	waitRunning(t, running)

	ch.Publish(false)
	waitFor(t, func() bool { return len(h.snapshot()) == 2 })

	ch.Publish(true)
	waitRunning(t, running)

	got := h.snapshot()
	want := []string{"acquire", "release", "acquire"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestRunWhile_UnrelatedChangeKeepsWorkRunning(t *testing.T) {
	b := bus.New("test")
	ch := bus.Register[int](b, "soc", bus.Retained)
	r := ch.Subscribe()
	ch.Publish(50)

	var starts atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunWhile(ctx, r, func(v int) bool { return v > 5 }, func(ctx context.Context) {
		starts.Add(1)
		<-ctx.Done()
	})

	waitFor(t, func() bool { return starts.Load() == 1 })
	ch.Publish(40)
	ch.Publish(30)
	time.Sleep(30 * time.Millisecond)
	if n := starts.Load(); n != 1 {
		t.Fatalf("work restarted %d times on a change that kept the predicate", n)
	}
}

func TestRunWhile_RestartsWorkThatReturns(t *testing.T) {
	ch, r := newFlag(t)
	ch.Publish(true)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunWhile(ctx, r, isTrue, func(context.Context) { runs.Add(1) },
		WithRestartDelay(5*time.Millisecond), WithName("central"), WithLogger(logger))

	waitFor(t, func() bool { return runs.Load() >= 3 })

	var tagged bool
	for _, e := range hook.AllEntries() {
		if e.Data["gate"] == "central" {
			tagged = true
		}
	}
	if !tagged {
		t.Fatal("no log record carried the gate name")
	}
}

func TestRunWhile_PanicInWorkReachesCaller(t *testing.T) {
	ch, r := newFlag(t)
	ch.Publish(true)

	var released atomic.Bool
	recovered := make(chan any, 1)
	go func() {
		defer func() { recovered <- recover() }()
		RunWhile(context.Background(), r, isTrue, func(ctx context.Context) {
			defer released.Store(true)
			panic("actuator fault")
		})
	}()

	select {
	case v := <-recovered:
		if v != "actuator fault" {
			t.Fatalf("recovered %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("panic did not reach the caller")
	}
	if !released.Load() {
		t.Fatal("work's deferred release did not run")
	}
}

func waitRunning(t *testing.T, c <-chan struct{}) {
	t.Helper()
	select {
	case <-c:
	case <-time.After(time.Second):
		t.Fatal("work did not start")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached")
		case <-time.After(time.Millisecond):
		}
	}
}
