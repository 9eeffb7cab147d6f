// Package state holds the fixed set of system channels and the composites
// derived from them.
package state

import (
	"sync"

	"blecopter-go/bus"
	"blecopter-go/types"
	"blecopter-go/x/mathx"
)

// Snapshot is the derived view of the power and link facts.
type Snapshot struct {
	SoC          uint8
	SoCKnown     bool
	Charger      types.ChargerState
	ChargerKnown bool
	Linked       bool
}

// SoCFatal is true once a known charge is at or below types.SoCFatal.
func (s Snapshot) SoCFatal() bool { return s.SoCKnown && s.SoC <= types.SoCFatal }

// SoCLow is true once a known charge is at or below types.SoCLow.
func (s Snapshot) SoCLow() bool { return s.SoCKnown && s.SoC <= types.SoCLow }

// Charging reports a known charging state.
func (s Snapshot) Charging() bool { return s.ChargerKnown && s.Charger.Charging }

// ControlMayRun is the flight control predicate. An unknown charge blocks it.
func ControlMayRun(s Snapshot) bool {
	return s.Linked && !s.Charging() && s.SoCKnown && s.SoC > types.SoCFatal
}

// LinkAllowed is the central role predicate: the controller link is not
// pursued on a fatal battery unless the charger is attached.
func LinkAllowed(s Snapshot) bool {
	return !s.SoCFatal() || s.Charging()
}

// Channel names.
const (
	NameSoC              = "power/soc"
	NameCharger          = "power/charger"
	NameTelemetry        = "power/telemetry"
	NameGyro             = "control/gyro"
	NameTuning           = "control/tuning"
	NameControllerLinked = "controller/linked"
	NameInput            = "controller/input"
	NameCentral          = "ble/central"
	NameRequests         = "ble/requests"
	NameSensorReset      = "control/sensor_reset"
	NameIndication       = "ui/indication"
	NameSnapshot         = "derived/snapshot"
	NameControlMayRun    = "derived/control_may_run"
)

// State is the system's State Bus. Producers of SoC, Charger and
// ControllerLinked must go through the setters so the composites stay in step.
type State struct {
	Bus *bus.Bus

	SoC              *bus.Channel[uint8]
	Charger          *bus.Channel[types.ChargerState]
	Telemetry        *bus.Channel[types.PeriodicUpdate]
	Gyro             *bus.Channel[int16]
	Tuning           *bus.Channel[types.PID]
	ControllerLinked *bus.Channel[bool]
	Input            *bus.Channel[types.ControllerInput]
	Central          *bus.Channel[types.CentralPhase]
	Requests         *bus.Channel[types.Request]
	SensorReset      *bus.Channel[struct{}]
	Indication       *bus.Channel[types.Indication]
	Snapshot         *bus.Channel[Snapshot]
	ControlMayRun    *bus.Channel[bool]

	mu   sync.Mutex
	snap Snapshot
}

// New registers every channel and seals the bus. The derived channels start
// out published so gates always have a value to evaluate.
func New() *State {
	b := bus.New("copter")
	s := &State{
		Bus:              b,
		SoC:              bus.Register[uint8](b, NameSoC, bus.Retained),
		Charger:          bus.Register[types.ChargerState](b, NameCharger, bus.Retained),
		Telemetry:        bus.Register[types.PeriodicUpdate](b, NameTelemetry, bus.Retained),
		Gyro:             bus.Register[int16](b, NameGyro, bus.Ephemeral),
		Tuning:           bus.Register[types.PID](b, NameTuning, bus.Retained),
		ControllerLinked: bus.Register[bool](b, NameControllerLinked, bus.Retained),
		Input:            bus.Register[types.ControllerInput](b, NameInput, bus.Ephemeral),
		Central:          bus.Register[types.CentralPhase](b, NameCentral, bus.Retained),
		Requests:         bus.Register[types.Request](b, NameRequests, bus.Ephemeral),
		SensorReset:      bus.Register[struct{}](b, NameSensorReset, bus.Ephemeral),
		Indication:       bus.Register[types.Indication](b, NameIndication, bus.Retained),
		Snapshot:         bus.Register[Snapshot](b, NameSnapshot, bus.Retained),
		ControlMayRun:    bus.Register[bool](b, NameControlMayRun, bus.Retained),
	}
	b.Seal()

	s.Central.Publish(types.PhaseIdle)
	s.Snapshot.Publish(s.snap)
	s.ControlMayRun.Publish(false)
	return s
}

// SetSoC publishes a state of charge, clamped to 100.
func (s *State) SetSoC(v uint8) {
	v = mathx.Clamp(v, 0, 100)
	s.update(func(sn *Snapshot) {
		sn.SoC, sn.SoCKnown = v, true
	}, func() { s.SoC.Publish(v) })
}

// SetCharger publishes the charger pins' state.
func (s *State) SetCharger(c types.ChargerState) {
	s.update(func(sn *Snapshot) {
		sn.Charger, sn.ChargerKnown = c, true
	}, func() { s.Charger.Publish(c) })
}

// SetControllerLinked publishes whether the controller link is present.
func (s *State) SetControllerLinked(linked bool) {
	s.update(func(sn *Snapshot) {
		sn.Linked = linked
	}, func() { s.ControllerLinked.Publish(linked) })
}

// Current returns the latest snapshot.
func (s *State) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// update applies f and publishes the fact and the composites under one lock,
// so readers never see a composite older than the fact that produced it.
func (s *State) update(f func(*Snapshot), publish func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.snap)
	publish()
	s.Snapshot.Publish(s.snap)
	s.ControlMayRun.Publish(ControlMayRun(s.snap))
}
