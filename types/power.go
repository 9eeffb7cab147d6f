package types

import (
	"encoding/binary"

	"blecopter-go/errcode"
)

// ------------------------
// Battery / Charger
// ------------------------

// Wire sizes of the packed GATT values.
const (
	ChargerStateSize   = 2
	PeriodicUpdateSize = 6
	TuningUpdateSize   = 6
	GyroSampleSize     = 2
)

// Thresholds on state of charge, in percent.
const (
	SoCFatal uint8 = 5
	SoCLow   uint8 = 15
)

// ChargerState is read from the charger's active-low status pins.
// Wire: [charging, failure], one byte each, 0 or 1.
type ChargerState struct {
	Charging bool
	Failure  bool
}

func (c ChargerState) MarshalBinary() ([]byte, error) {
	return []byte{b2u(c.Charging), b2u(c.Failure)}, nil
}

func (c *ChargerState) UnmarshalBinary(p []byte) error {
	if len(p) != ChargerStateSize {
		return errcode.InvalidPayload
	}
	c.Charging = p[0] != 0
	c.Failure = p[1] != 0
	return nil
}

// PeriodicUpdate is the gauge telemetry block.
// Voltage in mV, Current (average) in mA, Temperature in 0.1 K.
// Wire: little-endian u16, i16, u16.
type PeriodicUpdate struct {
	Voltage     uint16
	Current     int16
	Temperature uint16
}

func (u PeriodicUpdate) MarshalBinary() ([]byte, error) {
	p := make([]byte, PeriodicUpdateSize)
	binary.LittleEndian.PutUint16(p[0:2], u.Voltage)
	binary.LittleEndian.PutUint16(p[2:4], uint16(u.Current))
	binary.LittleEndian.PutUint16(p[4:6], u.Temperature)
	return p, nil
}

func (u *PeriodicUpdate) UnmarshalBinary(p []byte) error {
	if len(p) != PeriodicUpdateSize {
		return errcode.InvalidPayload
	}
	u.Voltage = binary.LittleEndian.Uint16(p[0:2])
	u.Current = int16(binary.LittleEndian.Uint16(p[2:4]))
	u.Temperature = binary.LittleEndian.Uint16(p[4:6])
	return nil
}

// ------------------------
// Control loop tuning
// ------------------------

// TuningScale is the fixed-point divisor of TuningUpdate fields.
const TuningScale = 100

// TuningUpdate is the host-written PID block in fixed point (value*100).
type TuningUpdate struct {
	P, I, D uint16
}

func (t TuningUpdate) MarshalBinary() ([]byte, error) {
	p := make([]byte, TuningUpdateSize)
	binary.LittleEndian.PutUint16(p[0:2], t.P)
	binary.LittleEndian.PutUint16(p[2:4], t.I)
	binary.LittleEndian.PutUint16(p[4:6], t.D)
	return p, nil
}

func (t *TuningUpdate) UnmarshalBinary(p []byte) error {
	if len(p) != TuningUpdateSize {
		return errcode.InvalidPayload
	}
	t.P = binary.LittleEndian.Uint16(p[0:2])
	t.I = binary.LittleEndian.Uint16(p[2:4])
	t.D = binary.LittleEndian.Uint16(p[4:6])
	return nil
}

// Gains converts the fixed-point block to float gains.
func (t TuningUpdate) Gains() PID {
	return PID{
		P: float32(t.P) / TuningScale,
		I: float32(t.I) / TuningScale,
		D: float32(t.D) / TuningScale,
	}
}

// PID holds control loop gains.
type PID struct {
	P, I, D float32
}

// ------------------------
// Gyro
// ------------------------

// EncodeGyro packs an angular rate sample (deg/s) as little-endian i16.
func EncodeGyro(v int16) []byte {
	p := make([]byte, GyroSampleSize)
	binary.LittleEndian.PutUint16(p, uint16(v))
	return p
}

// DecodeGyro is the inverse of EncodeGyro.
func DecodeGyro(p []byte) (int16, error) {
	if len(p) != GyroSampleSize {
		return 0, errcode.InvalidPayload
	}
	return int16(binary.LittleEndian.Uint16(p)), nil
}

// DecodeBool reads a one-byte boolean write. Empty payloads are rejected.
func DecodeBool(p []byte) (bool, error) {
	if len(p) != 1 {
		return false, errcode.InvalidPayload
	}
	return p[0] != 0, nil
}

func b2u(b bool) byte {
	if b {
		return 1
	}
	return 0
}
