package state

import (
	"testing"

	"blecopter-go/types"
)

func TestPredicates(t *testing.T) {
	charging := types.ChargerState{Charging: true}
	cases := []struct {
		name    string
		s       Snapshot
		control bool
		link    bool
	}{
		{"boot", Snapshot{}, false, true},
		{"linked, soc unknown", Snapshot{Linked: true}, false, true},
		{"linked, healthy", Snapshot{Linked: true, SoC: 80, SoCKnown: true}, true, true},
		{"linked, at fatal", Snapshot{Linked: true, SoC: 5, SoCKnown: true}, false, false},
		{"linked, just above fatal", Snapshot{Linked: true, SoC: 6, SoCKnown: true}, true, true},
		{"linked, charging", Snapshot{Linked: true, SoC: 80, SoCKnown: true, Charger: charging, ChargerKnown: true}, false, true},
		{"fatal while charging", Snapshot{SoC: 2, SoCKnown: true, Charger: charging, ChargerKnown: true}, false, true},
		{"not linked", Snapshot{SoC: 80, SoCKnown: true}, false, true},
	}
	for _, tc := range cases {
		if got := ControlMayRun(tc.s); got != tc.control {
			t.Errorf("%s: ControlMayRun = %v, want %v", tc.name, got, tc.control)
		}
		if got := LinkAllowed(tc.s); got != tc.link {
			t.Errorf("%s: LinkAllowed = %v, want %v", tc.name, got, tc.link)
		}
	}
}

func TestSetters_RecomputeComposites(t *testing.T) {
	s := New()
	mayRun := s.ControlMayRun.Subscribe()
	if v, ok := mayRun.Current(); !ok || v {
		t.Fatalf("initial ControlMayRun = %v,%v", v, ok)
	}

	s.SetControllerLinked(true)
	if v, _ := mayRun.Current(); v {
		t.Fatal("may run with unknown soc")
	}

	s.SetSoC(50)
	if v, _ := mayRun.Current(); !v {
		t.Fatal("may not run with link and healthy soc")
	}

	s.SetCharger(types.ChargerState{Charging: true})
	if v, _ := mayRun.Current(); v {
		t.Fatal("may run while charging")
	}

	snap, ok := s.Snapshot.Peek()
	if !ok || !snap.Linked || snap.SoC != 50 || !snap.Charging() {
		t.Fatalf("snapshot = %+v", snap)
	}
	if s.Current() != snap {
		t.Fatal("Current disagrees with published snapshot")
	}
}

func TestSetSoC_Clamped(t *testing.T) {
	s := New()
	s.SetSoC(250)
	if v, _ := s.SoC.Peek(); v != 100 {
		t.Fatalf("soc = %d", v)
	}
}

func TestFactChannelsRetained(t *testing.T) {
	s := New()
	s.SetSoC(42)
	s.SetControllerLinked(true)

	// A reader created after the fact still sees it.
	if v, ok := s.SoC.Subscribe().Current(); !ok || v != 42 {
		t.Fatalf("late soc reader = %d,%v", v, ok)
	}
	if v, ok := s.ControllerLinked.Subscribe().Current(); !ok || !v {
		t.Fatal("late link reader missed value")
	}
	if _, ok := s.Input.Subscribe().Current(); ok {
		t.Fatal("input channel should be ephemeral")
	}
}

func TestBusSealed(t *testing.T) {
	s := New()
	if len(s.Bus.Names()) != 13 {
		t.Fatalf("channels = %v", s.Bus.Names())
	}
}
