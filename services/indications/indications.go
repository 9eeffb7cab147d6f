// Package indications drives the status LED from the bus.
package indications

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"blecopter-go/state"
	"blecopter-go/types"
	"blecopter-go/x/logx"
	"blecopter-go/x/panicx"
	"blecopter-go/x/timex"
)

// LED is a digital output.
type LED interface {
	Set(on bool)
}

type Config struct {
	Fast  time.Duration
	Slow  time.Duration
	Pulse time.Duration
}

func DefaultConfig() Config {
	return Config{Fast: time.Second, Slow: 2 * time.Second, Pulse: 50 * time.Millisecond}
}

type Service struct {
	led LED
	st  *state.State
	cfg Config
	log logrus.FieldLogger
}

func New(led LED, st *state.State, cfg Config, l logrus.FieldLogger) *Service {
	return &Service{led: led, st: st, cfg: cfg, log: logx.Service(l, "indications")}
}

// Run follows state.Indication until ctx ends. Each change restarts the
// pattern from its first pulse.
func (s *Service) Run(ctx context.Context) {
	s.log.Info("led indications running")
	defer s.led.Set(false)

	r := s.st.Indication.Subscribe()
	style := types.IndicationDisabled
	for {
		if v, ok := r.Take(); ok {
			style = v
		}
		pctx, cancel := context.WithCancel(ctx)
		var box panicx.Box
		done := make(chan struct{})
		go func() {
			defer close(done)
			box.Run(func() { s.blink(pctx, s.period(style)) })
		}()

		select {
		case <-ctx.Done():
		case <-r.Ready():
		case <-done:
		}
		cancel()
		<-done
		box.Rethrow()
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Service) period(style types.Indication) time.Duration {
	switch style {
	case types.IndicationBlinkFast:
		return s.cfg.Fast
	case types.IndicationBlinkSlow:
		return s.cfg.Slow
	default:
		return 0
	}
}

// blink pulses the LED once per period. A zero period keeps it off.
func (s *Service) blink(ctx context.Context, period time.Duration) {
	s.led.Set(false)
	if period <= 0 {
		<-ctx.Done()
		return
	}
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		s.led.Set(true)
		ok := timex.Sleep(ctx, s.cfg.Pulse)
		s.led.Set(false)
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}
