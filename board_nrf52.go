//go:build nrf52840

package main

import (
	"device/arm"
	"machine"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"blecopter-go/drivers/bq27xxx"
	"blecopter-go/services/ble/tinygoradio"
	"blecopter-go/services/config"
	"blecopter-go/services/control"
	"blecopter-go/services/power"
	"blecopter-go/services/supervisor"
	"blecopter-go/state"
	"blecopter-go/x/mathx"
	"blecopter-go/x/pinirq"
	"blecopter-go/x/sharedi2c"
)

const boardName = "nrf52"

// Pin map.
const (
	pinLED       = machine.P0_00
	pinRotor1    = machine.P0_01
	pinRotor2    = machine.P0_02
	pinTailP     = machine.P0_03
	pinTailN     = machine.P0_04
	pinGaugeInt  = machine.P0_06
	pinSDA       = machine.P0_07
	pinSCL       = machine.P0_08
	pinCharging  = machine.P0_11
	pinFault     = machine.P0_12
	pinGyroPower = machine.P0_26
	pinGyroIn    = machine.P0_28
)

// 1 MHz counter over 512 steps.
const pwmPeriodNs = 512 * 1000

// The gyro gives 0.67 mV per deg/s. The ADC spans 1.2 V over 16-bit counts.
const gyroScale = 1200.0 / 65536 / 0.67

// The firmware has no filesystem; only the embedded config applies.
func configPath() string { return "" }

func resetBoard() { arm.SystemReset() }

// -----------------------------------------------------------------------------
// Pin adapters
// -----------------------------------------------------------------------------

type irqPin struct{ p machine.Pin }

func inputPullup(p machine.Pin) irqPin {
	p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return irqPin{p}
}

func (r irqPin) Get() bool { return r.p.Get() }

func (r irqPin) SetIRQ(edge pinirq.Edge, handler func()) error {
	return r.p.SetInterrupt(toPinChange(edge), func(machine.Pin) { handler() })
}

func (r irqPin) ClearIRQ() error {
	var zero machine.PinChange
	return r.p.SetInterrupt(zero, nil)
}

func toPinChange(e pinirq.Edge) machine.PinChange {
	switch e {
	case pinirq.EdgeRising:
		return machine.PinRising
	case pinirq.EdgeFalling:
		return machine.PinFalling
	case pinirq.EdgeBoth:
		return machine.PinToggle
	default:
		var zero machine.PinChange
		return zero
	}
}

type outPin struct{ p machine.Pin }

func output(p machine.Pin) outPin {
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Low()
	return outPin{p}
}

func (o outPin) Set(high bool) { o.p.Set(high) }

// pwmChannel scales the logical 0..MaxDuty range to the controller's top.
type pwmChannel struct {
	pwm *machine.PWM
	ch  uint8
}

func (c pwmChannel) Set(level uint16) {
	hw := mathx.RoundDiv(uint32(level)*c.pwm.Top(), uint32(control.MaxDuty))
	c.pwm.Set(c.ch, hw)
}

// -----------------------------------------------------------------------------
// Flight hardware
// -----------------------------------------------------------------------------

// flight hands out the same actuators and gyro each time the control loop
// is allowed to run; Close on either returns it to a safe state.
type flight struct {
	act  *control.PWMActuators
	gyro *control.ADCGyro
}

func (f *flight) OpenActuators() (control.Actuators, error) { return f.act, nil }
func (f *flight) OpenGyro() (control.Gyro, error)           { return f.gyro, nil }

func openFlight() (*flight, error) {
	pwm := machine.PWM0
	if err := pwm.Configure(machine.PWMConfig{Period: pwmPeriodNs}); err != nil {
		return nil, errors.Wrap(err, "configure pwm")
	}
	var chans [3]pwmChannel
	for i, p := range []machine.Pin{pinRotor1, pinRotor2, pinTailP} {
		ch, err := pwm.Channel(p)
		if err != nil {
			return nil, errors.Wrapf(err, "pwm channel for pin %d", p)
		}
		chans[i] = pwmChannel{pwm: pwm, ch: ch}
	}

	machine.InitADC()
	adc := machine.ADC{Pin: pinGyroIn}
	adc.Configure(machine.ADCConfig{Reference: 1200, Resolution: 12})

	f := &flight{
		act: &control.PWMActuators{
			Rotor1: chans[0],
			Rotor2: chans[1],
			Tail:   chans[2],
			TailN:  output(pinTailN),
			Top:    control.MaxDuty,
		},
		gyro: &control.ADCGyro{
			In:    &adc,
			Power: output(pinGyroPower),
			Scale: gyroScale,
		},
	}
	f.act.Close()
	return f, nil
}

// -----------------------------------------------------------------------------
// Board
// -----------------------------------------------------------------------------

type resetter struct{}

func (resetter) Reset() { arm.SystemReset() }

func openBoard(st *state.State, s config.Settings, log logrus.FieldLogger) (supervisor.Deps, error) {
	radio, err := tinygoradio.New(bluetooth.DefaultAdapter)
	if err != nil {
		return supervisor.Deps{}, err
	}

	i2c := machine.I2C0
	err = i2c.Configure(machine.I2CConfig{SDA: pinSDA, SCL: pinSCL, Frequency: 400 * machine.KHz})
	if err != nil {
		return supervisor.Deps{}, errors.Wrap(err, "configure i2c")
	}
	gauge := bq27xxx.New(sharedi2c.New(i2c).Device(), bq27xxx.AddressDefault)

	fl, err := openFlight()
	if err != nil {
		return supervisor.Deps{}, err
	}
	log.WithField("board", boardName).Debug("peripherals configured")

	return supervisor.Deps{
		State:    st,
		Settings: s,
		Central:  radio,
		Server:   radio,
		Gauge:    gauge,
		PowerPins: power.Pins{
			GaugeInt: inputPullup(pinGaugeInt),
			Charging: inputPullup(pinCharging),
			Fault:    inputPullup(pinFault),
		},
		Flight: fl,
		LED:    output(pinLED),
		Reset:  resetter{},
		Log:    log,
	}, nil
}

var (
	_ pinirq.Pin       = irqPin{}
	_ control.Hardware = (*flight)(nil)
	_ power.Gauge      = (*bq27xxx.Device)(nil)
)
