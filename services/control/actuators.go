package control

import "blecopter-go/x/mathx"

// Hardware opens the flight hardware. Both are opened inside the gated
// work and closed when it ends.
type Hardware interface {
	OpenActuators() (Actuators, error)
	OpenGyro() (Gyro, error)
}

type Actuators interface {
	SetRotors(r1, r2 uint16)
	SetTail(duty uint16, reverse bool)
	Close() error
}

type Gyro interface {
	Calibrate() error
	Rate() (float32, error) // deg/s
	Close() error
}

// PWMChannel is one hardware PWM output with a 0..top range.
type PWMChannel interface {
	Set(level uint16)
}

// OutputPin is a push-pull digital output.
type OutputPin interface {
	Set(high bool)
}

// PWMActuators drives two rotors and the tail motor's H-bridge: Tail is the
// PWM leg and TailN the direction leg.
type PWMActuators struct {
	Rotor1, Rotor2, Tail PWMChannel
	TailN                OutputPin
	Top                  uint16
	ActiveLow            bool
}

func (a *PWMActuators) toPhys(logical uint16) uint16 {
	l := mathx.Min(logical, a.Top)
	if !a.ActiveLow {
		return l
	}
	return a.Top - l
}

func (a *PWMActuators) SetRotors(r1, r2 uint16) {
	a.Rotor1.Set(a.toPhys(r1))
	a.Rotor2.Set(a.toPhys(r2))
}

func (a *PWMActuators) SetTail(duty uint16, reverse bool) {
	a.TailN.Set(reverse)
	a.Tail.Set(a.toPhys(duty))
}

// Close stops every motor.
func (a *PWMActuators) Close() error {
	a.SetRotors(0, 0)
	a.SetTail(0, false)
	return nil
}

// ADC is a single analogue input.
type ADC interface {
	Get() uint16
}

// ADCGyro reads an analogue rate gyro. The zero-rate level is measured by
// Calibrate with the airframe at rest.
type ADCGyro struct {
	In      ADC
	Power   OutputPin
	Scale   float32 // deg/s per count
	Samples int

	bias float32
}

func (g *ADCGyro) Calibrate() error {
	g.Power.Set(true)
	n := g.Samples
	if n <= 0 {
		n = 32
	}
	var sum uint32
	for i := 0; i < n; i++ {
		sum += uint32(g.In.Get())
	}
	g.bias = float32(sum) / float32(n)
	return nil
}

func (g *ADCGyro) Rate() (float32, error) {
	return (float32(g.In.Get()) - g.bias) * g.Scale, nil
}

func (g *ADCGyro) Close() error {
	g.Power.Set(false)
	return nil
}

var (
	_ Actuators = (*PWMActuators)(nil)
	_ Gyro      = (*ADCGyro)(nil)
)
