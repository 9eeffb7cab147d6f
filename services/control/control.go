// Package control runs the flight control loop while the controller is
// linked and the battery allows it.
package control

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"blecopter-go/gate"
	"blecopter-go/state"
	"blecopter-go/types"
	"blecopter-go/x/logx"
	"blecopter-go/x/mathx"
	"blecopter-go/x/timex"
)

const (
	// MaxDuty is the PWM top for every motor.
	MaxDuty = 512
	// hoverThreshold is the throttle above which yaw is stabilised.
	hoverThreshold = 50
)

type Config struct {
	RateHz         uint32
	ReceiveTimeout time.Duration // input older than this is treated as neutral
	OutputLimit    float32
	InitialPID     types.PID
	GyroEvery      int // publish every n-th gyro sample; zero disables
	RestartDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		RateHz:         200,
		ReceiveTimeout: time.Second,
		OutputLimit:    1000,
		InitialPID:     types.PID{P: 2},
		GyroEvery:      20,
		RestartDelay:   gate.DefaultRestartDelay,
	}
}

type Loop struct {
	hw  Hardware
	st  *state.State
	cfg Config
	log logrus.FieldLogger
}

func New(hw Hardware, st *state.State, cfg Config, l logrus.FieldLogger) *Loop {
	return &Loop{hw: hw, st: st, cfg: cfg, log: logx.Service(l, "control")}
}

// Run flies while state.ControlMayRun holds, until ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	return gate.RunWhile(ctx, l.st.ControlMayRun.Subscribe(),
		func(ok bool) bool { return ok },
		l.Fly,
		gate.WithName("control"), gate.WithLogger(l.log), gate.WithRestartDelay(l.cfg.RestartDelay))
}

// Fly owns the hardware for one gated run. Motors are stopped and the gyro
// powered down before it returns.
func (l *Loop) Fly(ctx context.Context) {
	act, err := l.hw.OpenActuators()
	if err != nil {
		l.log.WithError(err).Error("actuators unavailable")
		return
	}
	defer act.Close()

	gyro, err := l.hw.OpenGyro()
	if err != nil {
		l.log.WithError(err).Error("gyro unavailable")
		return
	}
	defer gyro.Close()

	if err := gyro.Calibrate(); err != nil {
		l.log.WithError(err).Error("gyro calibration failed")
		return
	}

	pid := NewPID(l.cfg.InitialPID, l.cfg.OutputLimit)
	tuning := l.st.Tuning.Subscribe()
	sensorReset := l.st.SensorReset.Subscribe()
	inputs := l.st.Input.Subscribe()

	tick := time.NewTicker(timex.Period(l.cfg.RateHz))
	defer tick.Stop()

	l.log.Info("control loop running")
	defer l.log.Info("control loop stopped")

	var (
		in       types.ControllerInput
		lastRecv = time.Now()
		samples  int
	)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			if g, ok := tuning.Take(); ok {
				l.log.WithFields(logrus.Fields{"p": g.P, "i": g.I, "d": g.D}).Info("updating pid params")
				pid.SetGains(g)
			}
			if _, ok := sensorReset.Take(); ok {
				l.log.Info("recalibrating gyro")
				if err := gyro.Calibrate(); err != nil {
					l.log.WithError(err).Warn("gyro calibration failed")
				}
				pid.Reset()
			}
			if v, ok := inputs.Take(); ok {
				in, lastRecv = v, now
			}
			if now.Sub(lastRecv) > l.cfg.ReceiveTimeout {
				in = types.ControllerInput{}
			}

			rate, err := gyro.Rate()
			if err != nil {
				l.log.WithError(err).Warn("gyro read failed")
				rate = 0
			}
			if l.cfg.GyroEvery > 0 {
				if samples++; samples >= l.cfg.GyroEvery {
					samples = 0
					l.st.Gyro.Publish(int16(mathx.Clamp(rate, -32768, 32767)))
				}
			}
			Mix(act, pid, in, rate)
		}
	}
}

// Mix turns one input sample and gyro rate into motor duties.
// Throttle comes from the left stick's Y, yaw from the right stick's X and
// the tail from the right stick's Y.
func Mix(act Actuators, pid *PID, in types.ControllerInput, rate float32) {
	throttle := mathx.Max(in.Left.Y>>6, 0)
	yaw := in.Right.X >> 6

	var correction int32
	if throttle > hoverThreshold {
		pid.Setpoint = -float32(yaw)
		correction = int32(pid.Next(rate))
	}

	act.SetRotors(duty(throttle+correction), duty(throttle-correction))

	elevator := in.Right.Y >> 6
	if elevator > 0 {
		act.SetTail(duty(MaxDuty-elevator), true)
	} else {
		act.SetTail(duty(-elevator), false)
	}
}

func duty(v int32) uint16 { return uint16(mathx.Clamp(v, 0, MaxDuty)) }
