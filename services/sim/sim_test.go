package sim

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"blecopter-go/services/config"
	"blecopter-go/services/supervisor"
	"blecopter-go/state"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func logged(h *test.Hook, msg string) func() bool {
	return func() bool {
		for _, e := range h.AllEntries() {
			if e.Message == msg {
				return true
			}
		}
		return false
	}
}

func TestWorld_FliesAndCharges(t *testing.T) {
	s, err := config.Embedded("sim")
	if err != nil {
		t.Fatal(err)
	}
	s.Power.PollInterval = 10 * time.Millisecond

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	w := NewWorld(40)
	st := state.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- supervisor.Run(ctx, w.Deps(st, s, logger)) }()
	go w.Play(ctx, Script{
		ReportRate:  2 * time.Millisecond,
		Climb:       40 * time.Millisecond,
		Hover:       20 * time.Millisecond,
		Drain:       30 * time.Millisecond,
		ChargeBelow: 10,
	}, logger)

	waitFor(t, "controller subscribed", w.Controller.Subscribed)
	waitFor(t, "rotors spinning", func() bool {
		r1, r2, _, _ := w.Board.Flight.Duties()
		return r1 > 0 && r2 > 0
	})
	waitFor(t, "host connected", logged(hook, "host connected"))
	waitFor(t, "host notified", logged(hook, "host notification"))
	waitFor(t, "charger plugged", logged(hook, "charger plugged"))
	waitFor(t, "grounded while charging", func() bool {
		open, _ := w.Board.Flight.Open()
		return !open
	})

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("supervisor = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	if w.Board.Reset.Count() != 0 {
		t.Fatal("board was reset")
	}
}
