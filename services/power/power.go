// Package power watches the fuel gauge and the charger pins and publishes
// state of charge, charger state and periodic telemetry.
package power

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/drivers"

	"blecopter-go/drivers/bq27xxx"
	"blecopter-go/state"
	"blecopter-go/types"
	"blecopter-go/x/logx"
	"blecopter-go/x/panicx"
	"blecopter-go/x/pinirq"
	"blecopter-go/x/timex"
)

// Gauge is the part of the fuel gauge the monitor uses.
type Gauge interface {
	Probe() error
	Flags() (bq27xxx.Flags, error)
	ControlStatus() (bq27xxx.ControlStatus, error)
	SetChemistry(bq27xxx.ChemID) error
	StateOfCharge() (uint8, error)
	Update(which drivers.Measurement) error
	Readings() (voltage uint16, current int16, temperature uint16)
}

// Pins are the monitor's inputs. Charging and Fault are active low with
// pull-ups; GaugeInt pulses low when the gauge wants attention.
type Pins struct {
	GaugeInt pinirq.Pin
	Charging pinirq.Pin
	Fault    pinirq.Pin
}

type Config struct {
	RetryInterval time.Duration // after a gauge failure
	PollInterval  time.Duration // telemetry period; zero disables it
	InitTries     int
	InitPoll      time.Duration
	Chemistry     bq27xxx.ChemID
}

func DefaultConfig() Config {
	return Config{
		RetryInterval: 10 * time.Second,
		PollInterval:  time.Second,
		InitTries:     10,
		InitPoll:      time.Second,
		Chemistry:     bq27xxx.ChemB,
	}
}

const (
	pinGauge    = "gauge-int"
	pinCharging = "charging"
	pinFault    = "fault"
)

type Monitor struct {
	gauge Gauge
	pins  Pins
	st    *state.State
	cfg   Config
	log   logrus.FieldLogger
}

func New(g Gauge, pins Pins, st *state.State, cfg Config, l logrus.FieldLogger) *Monitor {
	return &Monitor{gauge: g, pins: pins, st: st, cfg: cfg, log: logx.Service(l, "power")}
}

// Run returns only when ctx ends, or with an error when a pin cannot be
// set up.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("running power task")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := pinirq.New(8, 8)
	for _, p := range []struct {
		id     string
		pin    pinirq.Pin
		edge   pinirq.Edge
		invert bool
	}{
		{pinGauge, m.pins.GaugeInt, pinirq.EdgeFalling, false},
		{pinCharging, m.pins.Charging, pinirq.EdgeBoth, true},
		{pinFault, m.pins.Fault, pinirq.EdgeBoth, true},
	} {
		stop, err := w.Register(p.id, p.pin, p.edge, 0, p.invert)
		if err != nil {
			return errors.Wrapf(err, "power: irq on %s", p.id)
		}
		defer stop()
	}

	// A panic in either helper stops the task and is raised again here.
	var box panicx.Box
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		box.Rethrow()
	}()
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if box.Run(fn) {
				cancel()
			}
		}()
	}
	spawn(func() { w.Run(ctx) })

	charger := types.ChargerState{
		Charging: !m.pins.Charging.Get(),
		Failure:  !m.pins.Fault.Get(),
	}
	m.st.SetCharger(charger)

	irq := make(chan struct{}, 1)
	spawn(func() { m.gaugeLoop(ctx, irq) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-w.Events():
			switch ev.ID {
			case pinGauge:
				select {
				case irq <- struct{}{}:
				default:
				}
			case pinCharging:
				charger.Charging = ev.Level
				m.log.WithField("charger", charger).Info("charger status update")
				m.st.SetCharger(charger)
			case pinFault:
				charger.Failure = ev.Level
				m.log.WithField("charger", charger).Info("charger status update")
				m.st.SetCharger(charger)
			}
		}
	}
}

func (m *Monitor) gaugeLoop(ctx context.Context, irq <-chan struct{}) {
	for {
		err := m.pollGauge(ctx, irq)
		if ctx.Err() != nil {
			return
		}
		m.log.WithError(err).Error("gauge initialization failure")
		if !timex.Sleep(ctx, m.cfg.RetryInterval) {
			return
		}
	}
}

// pollGauge brings the gauge up and then serves interrupts and the
// telemetry timer until a read fails.
func (m *Monitor) pollGauge(ctx context.Context, irq <-chan struct{}) error {
	g := m.gauge
	if err := g.Probe(); err != nil {
		return err
	}
	flags, err := g.Flags()
	if err != nil {
		return err
	}
	if flags.Has(bq27xxx.FlagITPOR) {
		m.log.Info("fuelgauge ITPOR condition")
		if err := m.waitInitComplete(ctx); err != nil {
			return err
		}
		if err := g.SetChemistry(m.cfg.Chemistry); err != nil {
			return errors.Wrap(err, "configure gauge")
		}
	}

	// SoC drives the gates, so read it once up front.
	if err := m.publishSoC(); err != nil {
		return err
	}

	var tick <-chan time.Time
	if m.cfg.PollInterval > 0 {
		t := time.NewTicker(m.cfg.PollInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-irq:
			m.log.Debug("fuelgauge interrupt")
			if err := m.publishSoC(); err != nil {
				return err
			}
		case <-tick:
			if err := g.Update(drivers.Voltage | drivers.Temperature); err != nil {
				return err
			}
			v, c, t := g.Readings()
			m.st.Telemetry.Publish(types.PeriodicUpdate{Voltage: v, Current: c, Temperature: t})
		}
	}
}

func (m *Monitor) publishSoC() error {
	soc, err := m.gauge.StateOfCharge()
	if err != nil {
		return err
	}
	m.st.SetSoC(soc)
	return nil
}

func (m *Monitor) waitInitComplete(ctx context.Context) error {
	for i := 0; i < m.cfg.InitTries; i++ {
		s, err := m.gauge.ControlStatus()
		if err != nil {
			return err
		}
		if s.Has(bq27xxx.StatusInitComp) {
			m.log.Info("fuelgauge init complete")
			return nil
		}
		if !timex.Sleep(ctx, m.cfg.InitPoll) {
			return ctx.Err()
		}
	}
	return bq27xxx.ErrPollTimeout
}
