package ble

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"blecopter-go/drivers/xbox"
	"blecopter-go/errcode"
	"blecopter-go/services/ble/adv"
	"blecopter-go/state"
	"blecopter-go/types"
	"blecopter-go/x/logx"
	"blecopter-go/x/timex"
)

// CentralConfig holds the central role timings.
type CentralConfig struct {
	ScanTimeout    time.Duration // whole scan phase
	ScanRetryDelay time.Duration // after a radio scan error
	RetryDelay     time.Duration // after a failed connection attempt
}

func DefaultCentralConfig() CentralConfig {
	return CentralConfig{
		ScanTimeout:    10 * time.Second,
		ScanRetryDelay: 100 * time.Millisecond,
		RetryDelay:     100 * time.Millisecond,
	}
}

// Central keeps the game controller link: scan, connect, secure, subscribe,
// and start over.
type Central struct {
	radio  CentralRadio
	st     *state.State
	sec    SecurityHandler
	reset  types.Resetter
	cfg    CentralConfig
	log    logrus.FieldLogger
	filter func([]byte) bool
}

func NewCentral(radio CentralRadio, st *state.State, sec SecurityHandler, reset types.Resetter, cfg CentralConfig, l logrus.FieldLogger) *Central {
	return &Central{
		radio:  radio,
		st:     st,
		sec:    sec,
		reset:  reset,
		cfg:    cfg,
		log:    logx.Service(l, "ble.central"),
		filter: xbox.IsCandidate,
	}
}

// Run loops until ctx ends. Every failure is logged and retried.
func (c *Central) Run(ctx context.Context) {
	defer c.setPhase(types.PhaseIdle)
	for ctx.Err() == nil {
		err := c.session(ctx)
		c.setPhase(types.PhaseIdle)
		if err == nil || ctx.Err() != nil {
			continue
		}
		c.log.WithError(err).WithField("code", errcode.Of(err)).Error("search loop error")
		if !timex.Sleep(ctx, c.cfg.RetryDelay) {
			return
		}
	}
}

func (c *Central) session(ctx context.Context) error {
	addr, ok := c.scan(ctx)
	if !ok {
		return nil
	}

	link, err := c.connect(ctx, addr)
	if err != nil {
		return err
	}
	defer link.Disconnect()

	c.st.SetControllerLinked(true)
	defer c.st.SetControllerLinked(false)

	return c.runServices(ctx, link)
}

// scan returns the first candidate address, or false once ScanTimeout passes.
func (c *Central) scan(ctx context.Context) (Address, bool) {
	c.setPhase(types.PhaseScanning)
	c.log.WithField("timeout", c.cfg.ScanTimeout).Info("scanning for controllers")

	sctx, cancel := context.WithTimeout(ctx, c.cfg.ScanTimeout)
	defer cancel()

	for {
		addr, err := c.radio.Scan(sctx, func(r ScanReport) bool { return c.filter(r.Payload) })
		if err == nil {
			c.log.WithField("peer", addr).Info("found controller")
			return addr, true
		}
		if sctx.Err() != nil {
			if ctx.Err() == nil {
				c.log.Warn("scanning timed out")
			}
			return "", false
		}
		c.log.WithError(err).Error("scan error")
		if !timex.Sleep(sctx, c.cfg.ScanRetryDelay) {
			if ctx.Err() == nil {
				c.log.Warn("scanning timed out")
			}
			return "", false
		}
	}
}

func (c *Central) connect(ctx context.Context, addr Address) (Link, error) {
	c.setPhase(types.PhaseConnecting)
	c.log.WithField("peer", addr).Info("connecting")

	link, err := c.radio.Connect(ctx, ConnectParams{
		Whitelist: []Address{addr},
		Security:  c.sec,
	})
	if err != nil {
		return nil, errcode.Wrap(errcode.Connect, "connect", err)
	}

	c.setPhase(types.PhaseEncrypting)
	err = link.Encrypt(ctx)
	switch {
	case err == nil:
		c.log.Info("connection encrypted")
	case errors.Is(err, ErrPeerKeysNotFound):
		c.log.Info("no peer keys, request pairing")
		if perr := link.RequestPairing(ctx); perr != nil {
			c.log.WithError(perr).Error("pairing not done")
		} else {
			c.log.Info("pairing done")
		}
	default:
		link.Disconnect()
		return nil, errcode.Wrap(errcode.Encryption, "encrypt", err)
	}
	return link, nil
}

func (c *Central) runServices(ctx context.Context, link Link) error {
	c.setPhase(types.PhaseDiscovering)

	svc, err := link.DiscoverService(ctx, adv.UUID16(xbox.HIDService))
	if err != nil {
		return errcode.DiscoveryFailed("discover hid service")
	}
	report, err := svc.Characteristic(ctx, adv.UUID16(xbox.HIDReport))
	if err != nil {
		return errcode.DiscoveryFailed("discover hid report")
	}
	if err := report.Subscribe(ctx, c.onReport); err != nil {
		return errcode.Wrap(errcode.Write, "enable report notifications", err)
	}
	c.log.Debug("notifications enabled")
	c.setPhase(types.PhaseSubscribed)

	select {
	case <-ctx.Done():
	case <-link.Done():
		c.log.Info("controller link lost")
	}
	return nil
}

func (c *Central) onReport(p []byte) {
	in := xbox.DecodeReport(p)
	if in.Buttons.Has(types.ButtonRB) {
		c.log.Warn("panic button pressed, resetting")
		c.reset.Reset()
		return
	}
	c.st.Input.Publish(in)
}

func (c *Central) setPhase(p types.CentralPhase) {
	c.log.WithField("phase", p).Debug("central phase")
	c.st.Central.Publish(p)
	switch p {
	case types.PhaseScanning:
		c.st.Indication.Publish(types.IndicationBlinkFast)
	case types.PhaseConnecting, types.PhaseEncrypting:
		c.st.Indication.Publish(types.IndicationBlinkSlow)
	case types.PhaseSubscribed:
		c.st.Indication.Publish(types.IndicationDisabled)
	}
}
