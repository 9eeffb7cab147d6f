// Package simhw stands in for the copter's board peripherals on the host:
// fuel gauge, input pins, motors, gyro, LED and reset line.
package simhw

import (
	"sync"
	"sync/atomic"

	"tinygo.org/x/drivers"

	"blecopter-go/drivers/bq27xxx"
	"blecopter-go/services/control"
	"blecopter-go/services/power"
	"blecopter-go/x/pinirq"
)

// ---- Pin ----

// Pin is an input whose level the simulation sets. Inputs idle high as if
// pulled up.
type Pin struct {
	mu      sync.Mutex
	low     bool
	handler func()
}

func (p *Pin) Get() bool { p.mu.Lock(); defer p.mu.Unlock(); return !p.low }

func (p *Pin) SetIRQ(_ pinirq.Edge, h func()) error {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
	return nil
}

func (p *Pin) ClearIRQ() error {
	p.mu.Lock()
	p.handler = nil
	p.mu.Unlock()
	return nil
}

// Set drives the level and raises the interrupt.
func (p *Pin) Set(high bool) {
	p.mu.Lock()
	p.low = !high
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h()
	}
}

// Armed reports whether an interrupt handler is installed.
func (p *Pin) Armed() bool { p.mu.Lock(); defer p.mu.Unlock(); return p.handler != nil }

// ---- Gauge ----

// Gauge is a fuel gauge that reports whatever the simulation sets.
type Gauge struct {
	mu          sync.Mutex
	soc         uint8
	voltage     uint16
	current     int16
	temperature uint16
	probeErr    error
	irq         *Pin
}

// NewGauge returns a gauge at soc percent. When irq is not nil, SetSoC
// pulses it like the real gauge's interrupt line.
func NewGauge(soc uint8, irq *Pin) *Gauge {
	return &Gauge{soc: soc, voltage: 3700, temperature: 2982, irq: irq}
}

func (g *Gauge) SetSoC(v uint8) {
	g.mu.Lock()
	g.soc = v
	irq := g.irq
	g.mu.Unlock()
	if irq != nil {
		irq.Set(false)
		irq.Set(true)
	}
}

func (g *Gauge) SetReadings(mv uint16, ma int16, deciK uint16) {
	g.mu.Lock()
	g.voltage, g.current, g.temperature = mv, ma, deciK
	g.mu.Unlock()
}

// FailProbe makes probes fail with err until it is cleared with nil.
func (g *Gauge) FailProbe(err error) {
	g.mu.Lock()
	g.probeErr = err
	g.mu.Unlock()
}

func (g *Gauge) Probe() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.probeErr
}

func (g *Gauge) Flags() (bq27xxx.Flags, error) { return 0, nil }

func (g *Gauge) ControlStatus() (bq27xxx.ControlStatus, error) {
	return bq27xxx.StatusInitComp, nil
}

func (g *Gauge) SetChemistry(bq27xxx.ChemID) error { return nil }

func (g *Gauge) StateOfCharge() (uint8, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.soc, nil
}

func (g *Gauge) Update(drivers.Measurement) error { return nil }

func (g *Gauge) Readings() (uint16, int16, uint16) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.voltage, g.current, g.temperature
}

// ---- Flight hardware ----

// Flight records motor duties and serves a constant gyro rate.
type Flight struct {
	mu      sync.Mutex
	rotor1  uint16
	rotor2  uint16
	tail    uint16
	reverse bool
	rate    float32
	opens   int
	open    bool
}

// Duties returns the last motor outputs.
func (f *Flight) Duties() (r1, r2, tail uint16, reverse bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotor1, f.rotor2, f.tail, f.reverse
}

// Open reports whether the actuators are held, and how often they were
// opened.
func (f *Flight) Open() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open, f.opens
}

func (f *Flight) SetRate(r float32) {
	f.mu.Lock()
	f.rate = r
	f.mu.Unlock()
}

func (f *Flight) OpenActuators() (control.Actuators, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.open = true
	return actuators{f}, nil
}

func (f *Flight) OpenGyro() (control.Gyro, error) { return gyro{f}, nil }

type actuators struct{ f *Flight }

func (a actuators) SetRotors(r1, r2 uint16) {
	a.f.mu.Lock()
	a.f.rotor1, a.f.rotor2 = r1, r2
	a.f.mu.Unlock()
}

func (a actuators) SetTail(d uint16, reverse bool) {
	a.f.mu.Lock()
	a.f.tail, a.f.reverse = d, reverse
	a.f.mu.Unlock()
}

func (a actuators) Close() error {
	a.f.mu.Lock()
	a.f.rotor1, a.f.rotor2, a.f.tail, a.f.reverse = 0, 0, 0, false
	a.f.open = false
	a.f.mu.Unlock()
	return nil
}

type gyro struct{ f *Flight }

func (g gyro) Calibrate() error { return nil }
func (g gyro) Close() error     { return nil }

func (g gyro) Rate() (float32, error) {
	g.f.mu.Lock()
	defer g.f.mu.Unlock()
	return g.f.rate, nil
}

// ---- LED and reset ----

type LED struct {
	mu     sync.Mutex
	on     bool
	pulses int
}

func (l *LED) Set(on bool) {
	l.mu.Lock()
	if on && !l.on {
		l.pulses++
	}
	l.on = on
	l.mu.Unlock()
}

// Pulses counts off-to-on transitions.
func (l *LED) Pulses() int { l.mu.Lock(); defer l.mu.Unlock(); return l.pulses }

// Resetter counts reset requests instead of rebooting.
type Resetter struct {
	n  atomic.Int32
	On func()
}

func (r *Resetter) Reset() {
	r.n.Add(1)
	if r.On != nil {
		r.On()
	}
}

func (r *Resetter) Count() int { return int(r.n.Load()) }

// ---- Board ----

// Board bundles one of everything.
type Board struct {
	GaugeInt, Charging, Fault Pin

	Gauge  *Gauge
	Flight Flight
	LED    LED
	Reset  Resetter
}

func NewBoard(soc uint8) *Board {
	b := &Board{}
	b.Gauge = NewGauge(soc, &b.GaugeInt)
	return b
}

func (b *Board) PowerPins() power.Pins {
	return power.Pins{GaugeInt: &b.GaugeInt, Charging: &b.Charging, Fault: &b.Fault}
}

// PlugCharger drives the active-low charging line.
func (b *Board) PlugCharger(plugged bool) { b.Charging.Set(!plugged) }

var (
	_ power.Gauge      = (*Gauge)(nil)
	_ pinirq.Pin       = (*Pin)(nil)
	_ control.Hardware = (*Flight)(nil)
)
