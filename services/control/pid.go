package control

import (
	"blecopter-go/types"
	"blecopter-go/x/mathx"
)

// PID is a positional controller with a clamp on each term and on the sum.
type PID struct {
	Setpoint float32

	gains types.PID
	limit float32

	integral float32
	prev     float32
	hasPrev  bool
}

func NewPID(g types.PID, limit float32) *PID {
	return &PID{gains: g, limit: limit}
}

// SetGains replaces the gains. Accumulated state is kept.
func (p *PID) SetGains(g types.PID) { p.gains = g }

func (p *PID) Gains() types.PID { return p.gains }

// Reset drops the integral and derivative history.
func (p *PID) Reset() {
	p.integral = 0
	p.hasPrev = false
}

// Next returns the output for one measurement.
func (p *PID) Next(measurement float32) float32 {
	lim := p.limit
	err := p.Setpoint - measurement

	pTerm := mathx.Clamp(err*p.gains.P, -lim, lim)

	p.integral = mathx.Clamp(p.integral+err*p.gains.I, -lim, lim)

	var dTerm float32
	if p.hasPrev {
		// Derivative on measurement: setpoint jumps do not kick.
		dTerm = mathx.Clamp(-(measurement-p.prev)*p.gains.D, -lim, lim)
	}
	p.prev, p.hasPrev = measurement, true

	return mathx.Clamp(pTerm+p.integral+dTerm, -lim, lim)
}
