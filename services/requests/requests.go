// Package requests acts on what the host companion writes to the control
// service.
package requests

import (
	"context"

	"github.com/sirupsen/logrus"

	"blecopter-go/state"
	"blecopter-go/types"
	"blecopter-go/x/logx"
)

type Handler struct {
	st    *state.State
	reset types.Resetter
	log   logrus.FieldLogger
}

func New(st *state.State, reset types.Resetter, l logrus.FieldLogger) *Handler {
	return &Handler{st: st, reset: reset, log: logx.Service(l, "requests")}
}

// Run consumes requests until ctx ends. Sensor resets are handed to the
// control loop on their own channel, so a later request cannot displace one
// the loop has not read yet.
func (h *Handler) Run(ctx context.Context) {
	r := h.st.Requests.Subscribe()
	for {
		req, err := r.WaitChanged(ctx)
		if err != nil {
			return
		}
		log := h.log.WithField("request", req.Kind)
		switch req.Kind {
		case types.RequestReboot:
			log.Warn("reboot requested")
			h.reset.Reset()
		case types.RequestTuning:
			log.WithFields(logrus.Fields{"p": req.Tuning.P, "i": req.Tuning.I, "d": req.Tuning.D}).Info("tuning update")
			h.st.Tuning.Publish(req.Tuning)
		case types.RequestSensorReset:
			h.st.SensorReset.Publish(struct{}{})
			log.Debug("sensor reset forwarded")
		default:
			log.Warn("unknown request")
		}
	}
}
