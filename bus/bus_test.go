// bus/bus_test.go
package bus

import (
	"context"
	"testing"
	"time"
)

func TestRetained_LateReaderSeesLastValue(t *testing.T) {
	b := New("test")
	ch := Register[int](b, "soc", Retained)

	ch.Publish(40)
	ch.Publish(41)

	r := ch.Subscribe()
	if v, ok := r.Current(); !ok || v != 41 {
		t.Fatalf("Current() = %v,%v want 41,true", v, ok)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	v, err := r.WaitChanged(ctx)
	if err != nil {
		t.Fatalf("WaitChanged: %v", err)
	}
	if v != 41 {
		t.Fatalf("first change = %d, want retained 41", v)
	}
}

func TestEphemeral_LateReaderSeesNothing(t *testing.T) {
	b := New("test")
	ch := Register[string](b, "input", Ephemeral)

	ch.Publish("before")
	r := ch.Subscribe()

	if _, ok := r.Current(); ok {
		t.Fatal("ephemeral reader should not see values published before it subscribed")
	}
	if _, ok := ch.Peek(); ok {
		t.Fatal("Peek on ephemeral channel should report false")
	}
	expectNoChange(t, r)

	ch.Publish("after")
	if v, ok := r.Current(); !ok || v != "after" {
		t.Fatalf("Current() = %q,%v want after,true", v, ok)
	}
	expectChange(t, r, "after")
}

func TestUnsetChannel(t *testing.T) {
	b := New("test")
	ch := Register[bool](b, "link", Retained)
	r := ch.Subscribe()
	if _, ok := r.Current(); ok {
		t.Fatal("unset channel reported a value")
	}
	if _, ok := ch.Peek(); ok {
		t.Fatal("unset channel Peek reported a value")
	}
	expectNoChange(t, r)
}

func TestEveryPublishCountsAsChange(t *testing.T) {
	b := New("test")
	ch := Register[int](b, "x", Ephemeral)
	r := ch.Subscribe()

	ch.Publish(7)
	expectChange(t, r, 7)
	ch.Publish(7)
	expectChange(t, r, 7)
	expectNoChange(t, r)
}

func TestLastWriteWins(t *testing.T) {
	b := New("test")
	ch := Register[int](b, "x", Ephemeral)
	r := ch.Subscribe()

	ch.Publish(1)
	ch.Publish(2)
	ch.Publish(3)

	expectChange(t, r, 3)
	expectNoChange(t, r)
}

func TestReadersAreIndependent(t *testing.T) {
	b := New("test")
	ch := Register[int](b, "x", Retained)
	r1 := ch.Subscribe()
	r2 := ch.Subscribe()

	ch.Publish(5)
	expectChange(t, r1, 5)
	// r2 has not consumed anything yet.
	expectChange(t, r2, 5)

	ch.Publish(6)
	expectChange(t, r2, 6)
	expectChange(t, r1, 6)
}

func TestOrderPreservedUnderConcurrentPublish(t *testing.T) {
	b := New("test")
	ch := Register[int](b, "seq", Ephemeral)
	r := ch.Subscribe()

	const n = 2000
	go func() {
		for i := 1; i <= n; i++ {
			ch.Publish(i)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	last := 0
	for last < n {
		v, err := r.WaitChanged(ctx)
		if err != nil {
			t.Fatalf("WaitChanged after %d: %v", last, err)
		}
		if v <= last {
			t.Fatalf("observed %d after %d: stale or reordered", v, last)
		}
		last = v
	}
}

func TestWaitChanged_ContextCancel(t *testing.T) {
	b := New("test")
	ch := Register[int](b, "x", Retained)
	r := ch.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := r.WaitChanged(ctx)
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("WaitChanged did not return after cancel")
	}
}

func TestReady_SelectAcrossChannels(t *testing.T) {
	b := New("test")
	a := Register[int](b, "a", Ephemeral)
	c := Register[string](b, "c", Ephemeral)
	ra := a.Subscribe()
	rc := c.Subscribe()

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Publish("hello")
	}()

	select {
	case <-ra.Ready():
		t.Fatal("a became ready without a publish")
	case <-rc.Ready():
		if v, ok := rc.Take(); !ok || v != "hello" {
			t.Fatalf("Take() = %q,%v", v, ok)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for c")
	}
}

func TestRegister_AfterSealPanics(t *testing.T) {
	b := New("test")
	Register[int](b, "x", Retained)
	b.Seal()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic registering after Seal")
		}
	}()
	Register[int](b, "y", Retained)
}

func TestRegister_DuplicatePanics(t *testing.T) {
	b := New("test")
	Register[int](b, "x", Retained)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate name")
		}
	}()
	Register[bool](b, "x", Retained)
}

func TestNames(t *testing.T) {
	b := New("test")
	Register[int](b, "one", Retained)
	Register[int](b, "two", Ephemeral)
	got := b.Names()
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("Names() = %v", got)
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func expectChange[T comparable](t *testing.T, r *Reader[T], want T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	got, err := r.WaitChanged(ctx)
	if err != nil {
		t.Fatalf("expected change %v, got error %v", want, err)
	}
	if got != want {
		t.Fatalf("change = %v, want %v", got, want)
	}
}

func expectNoChange[T any](t *testing.T, r *Reader[T]) {
	t.Helper()
	select {
	case <-r.Ready():
		v, _ := r.Take()
		t.Fatalf("unexpected change: %v", v)
	case <-time.After(20 * time.Millisecond):
	}
}
