package heartbeat

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"blecopter-go/state"
	"blecopter-go/x/logx"
)

type Service struct {
	st       *state.State
	interval time.Duration
	log      logrus.FieldLogger
}

func New(st *state.State, interval time.Duration, l logrus.FieldLogger) *Service {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Service{st: st, interval: interval, log: logx.Service(l, "heartbeat")}
}

// Run logs the bus snapshot on every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("heartbeat service stopping")
			return
		case <-tick.C:
			s.beat()
		}
	}
}

func (s *Service) beat() {
	snap := s.st.Current()
	phase, _ := s.st.Central.Peek()
	fly, _ := s.st.ControlMayRun.Peek()
	f := logrus.Fields{
		"linked": snap.Linked,
		"phase":  phase,
		"fly":    fly,
	}
	if snap.SoCKnown {
		f["soc"] = snap.SoC
	}
	if snap.ChargerKnown {
		f["charging"] = snap.Charger.Charging
		f["charger_fault"] = snap.Charger.Failure
	}
	s.log.WithFields(f).Info("heartbeat")
}
