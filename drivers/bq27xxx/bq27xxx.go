// Package bq27xxx reads the TI bq27427 single-cell fuel gauge over I2C.
//
// Only the standard command set is used: SoC, voltage, average current,
// temperature and the status words. Data-memory blocks are left alone
// apart from selecting a chemistry profile.
package bq27xxx

import (
	"time"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers"
)

var (
	ErrWrongDevice = errors.New("bq27xxx: unexpected device type")
	ErrPollTimeout = errors.New("bq27xxx: poll timeout")
)

type Device struct {
	i2c  drivers.I2C
	addr uint16

	// Sleep is used between status polls. Tests may replace it.
	Sleep func(time.Duration)

	// Last values read by Update.
	voltage     uint16
	current     int16
	temperature uint16

	// Fixed buffers to avoid per-call heap allocations.
	w [3]byte
	r [2]byte
}

// New returns a gauge on bus i2c. A zero addr selects AddressDefault.
func New(i2c drivers.I2C, addr uint16) *Device {
	if addr == 0 {
		addr = AddressDefault
	}
	return &Device{i2c: i2c, addr: addr, Sleep: time.Sleep}
}

// ---------------- Bus helpers ----------------

func (d *Device) readWord(cmd byte) (uint16, error) {
	d.w[0] = cmd
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:]); err != nil {
		return 0, errors.Wrapf(err, "bq27xxx: read %#02x", cmd)
	}
	return uint16(d.r[0]) | uint16(d.r[1])<<8, nil
}

func (d *Device) control(sub uint16) error {
	d.w[0] = cmdControl
	d.w[1] = byte(sub)
	d.w[2] = byte(sub >> 8)
	if err := d.i2c.Tx(d.addr, d.w[:3], nil); err != nil {
		return errors.Wrapf(err, "bq27xxx: control %#04x", sub)
	}
	return nil
}

func (d *Device) controlRead(sub uint16) (uint16, error) {
	if err := d.control(sub); err != nil {
		return 0, err
	}
	return d.readWord(cmdControl)
}

// ---------------- Identification and status ----------------

// Probe checks that a bq27427 answers at the configured address.
func (d *Device) Probe() error {
	v, err := d.controlRead(subDeviceType)
	if err != nil {
		return err
	}
	if v != DeviceType {
		return errors.Wrapf(ErrWrongDevice, "got %#04x", v)
	}
	return nil
}

func (d *Device) ControlStatus() (ControlStatus, error) {
	v, err := d.controlRead(subControlStatus)
	return ControlStatus(v), err
}

func (d *Device) Flags() (Flags, error) {
	v, err := d.readWord(cmdFlags)
	return Flags(v), err
}

// ---------------- Measurements ----------------

// StateOfCharge returns the remaining charge in percent.
func (d *Device) StateOfCharge() (uint8, error) {
	v, err := d.readWord(cmdStateOfCharge)
	if v > 100 {
		v = 100
	}
	return uint8(v), err
}

// Voltage returns the cell voltage in mV.
func (d *Device) Voltage() (uint16, error) { return d.readWord(cmdVoltage) }

// AverageCurrent returns the average current in mA; negative while
// discharging.
func (d *Device) AverageCurrent() (int16, error) {
	v, err := d.readWord(cmdAverageCurrent)
	return int16(v), err
}

// Temperature returns the gauge temperature in 0.1 K.
func (d *Device) Temperature() (uint16, error) { return d.readWord(cmdTemperature) }

// Update refreshes the cached readings. drivers.Voltage reads voltage and
// average current, drivers.Temperature reads temperature.
func (d *Device) Update(which drivers.Measurement) error {
	if which&drivers.Voltage != 0 {
		v, err := d.Voltage()
		if err != nil {
			return err
		}
		c, err := d.AverageCurrent()
		if err != nil {
			return err
		}
		d.voltage, d.current = v, c
	}
	if which&drivers.Temperature != 0 {
		t, err := d.Temperature()
		if err != nil {
			return err
		}
		d.temperature = t
	}
	return nil
}

// Readings returns what the last Update stored: mV, mA and 0.1 K.
func (d *Device) Readings() (voltage uint16, current int16, temperature uint16) {
	return d.voltage, d.current, d.temperature
}

// ---------------- Configuration ----------------

// SetChemistry selects a built-in chemistry profile. The gauge is unsealed,
// put in config-update mode, soft reset to apply, and sealed again.
func (d *Device) SetChemistry(id ChemID) error {
	for i := 0; i < 2; i++ {
		if err := d.control(subUnsealKey); err != nil {
			return err
		}
	}
	if err := d.control(subSetCfgUpdate); err != nil {
		return err
	}
	if err := d.waitFlag(FlagCfgUpMode, true); err != nil {
		return err
	}
	if err := d.control(uint16(id)); err != nil {
		return err
	}
	if err := d.control(subSoftReset); err != nil {
		return err
	}
	if err := d.waitFlag(FlagCfgUpMode, false); err != nil {
		return err
	}
	return d.control(subSeal)
}

func (d *Device) waitFlag(f Flags, set bool) error {
	for i := 0; i < 20; i++ {
		v, err := d.Flags()
		if err != nil {
			return err
		}
		if v.Has(f) == set {
			return nil
		}
		d.Sleep(50 * time.Millisecond)
	}
	return ErrPollTimeout
}

var _ drivers.Sensor = (*Device)(nil)
