package ble

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"blecopter-go/errcode"
	"blecopter-go/services/ble/adv"
	"blecopter-go/state"
	"blecopter-go/types"
	"blecopter-go/x/logx"
	"blecopter-go/x/panicx"
	"blecopter-go/x/timex"
)

type PeripheralConfig struct {
	DeviceName          string
	AdvertiseRetryDelay time.Duration
}

func DefaultPeripheralConfig() PeripheralConfig {
	return PeripheralConfig{
		DeviceName:          "Syma S107",
		AdvertiseRetryDelay: time.Second,
	}
}

// Peripheral serves the power, telemetry and control services to a host.
type Peripheral struct {
	radio   ServerRadio
	st      *state.State
	cfg     PeripheralConfig
	profile Profile
	log     logrus.FieldLogger
}

func NewPeripheral(radio ServerRadio, st *state.State, cfg PeripheralConfig, l logrus.FieldLogger) *Peripheral {
	return &Peripheral{
		radio:   radio,
		st:      st,
		cfg:     cfg,
		profile: DefaultProfile(),
		log:     logx.Service(l, "ble.peripheral"),
	}
}

// Advertisement builds the advertising and scan response payloads.
func (p *Peripheral) Advertisement() (Advertisement, error) {
	var data, scan adv.Builder
	d, err := data.
		Flags(adv.FlagLEGeneralDiscoverable | adv.FlagBREDRNotSupported).
		Services128(false, PowerService).
		Bytes()
	if err != nil {
		return Advertisement{}, err
	}
	s, err := scan.Name(p.cfg.DeviceName, true).Bytes()
	if err != nil {
		return Advertisement{}, err
	}
	return Advertisement{
		Data:         d,
		ScanResponse: s,
		LocalName:    p.cfg.DeviceName,
		Services:     []uuid.UUID{PowerService},
	}, nil
}

// Run registers the profile and then advertises and serves hosts until ctx
// ends. Only a registration or payload failure is returned; it is fatal.
func (p *Peripheral) Run(ctx context.Context) error {
	a, err := p.Advertisement()
	if err != nil {
		return errcode.Wrap(errcode.Advertise, "build advertisement", err)
	}
	if err := p.radio.Register(p.profile); err != nil {
		return errcode.Wrap(errcode.Error, "register gatt profile", err)
	}

	for ctx.Err() == nil {
		conn, err := p.radio.Advertise(ctx, a)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.log.WithError(errcode.Wrap(errcode.Advertise, "advertise", err)).Error("unable to advertise")
			timex.Sleep(ctx, p.cfg.AdvertiseRetryDelay)
			continue
		}
		p.serve(ctx, conn)
	}
	return nil
}

// serve races the GATT dispatcher against the notifier. The host is
// disconnected once either ends.
func (p *Peripheral) serve(ctx context.Context, conn HostConn) {
	log := p.log.WithField("host", conn.Peer())
	log.Info("host connected")
	defer log.Info("host disconnected")
	defer conn.Disconnect()

	race(ctx,
		func(ctx context.Context) { p.dispatch(ctx, conn, log) },
		func(ctx context.Context) { p.notify(ctx, conn, log) },
	)
}

func (p *Peripheral) dispatch(ctx context.Context, conn HostConn, log logrus.FieldLogger) {
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.handle(ev, log)
		}
	}
}

func (p *Peripheral) handle(ev GattEvent, log logrus.FieldLogger) {
	switch e := ev.(type) {
	case WriteEvent:
		log := log.WithField("char", e.Handle)
		switch e.Handle {
		case HandleReboot:
			v, err := types.DecodeBool(e.Value)
			if err != nil {
				log.WithError(err).Debug("malformed write ignored")
				return
			}
			if v {
				p.st.Requests.Publish(types.Request{Kind: types.RequestReboot})
			}
		case HandleTuning:
			var tu types.TuningUpdate
			if err := tu.UnmarshalBinary(e.Value); err != nil {
				log.WithError(err).Debug("malformed write ignored")
				return
			}
			g := tu.Gains()
			log.WithFields(logrus.Fields{"p": g.P, "i": g.I, "d": g.D}).Info("tuning update")
			p.st.Requests.Publish(types.Request{Kind: types.RequestTuning, Tuning: g})
		case HandleSensorReset:
			v, err := types.DecodeBool(e.Value)
			if err != nil {
				log.WithError(err).Debug("malformed write ignored")
				return
			}
			if v {
				p.st.Requests.Publish(types.Request{Kind: types.RequestSensorReset})
			}
		case HandleBatteryLevel, HandleChargerState, HandlePeriodicUpdate, HandleGyro:
			log.Debug("write to read-only characteristic ignored")
		default:
			log.Debug("write to unknown characteristic ignored")
		}
	case CCCDEvent:
		log.WithFields(logrus.Fields{"char": e.Handle, "enabled": e.Notifications}).Info("notifications")
	default:
		log.Debug("unrecognised gatt event ignored")
	}
}

func (p *Peripheral) notify(ctx context.Context, conn HostConn, log logrus.FieldLogger) {
	soc := p.st.SoC.Subscribe()
	charger := p.st.Charger.Subscribe()
	telemetry := p.st.Telemetry.Subscribe()
	gyro := p.st.Gyro.Subscribe()

	// Sync the readable values once. Telemetry is notify only.
	if v, ok := soc.Take(); ok {
		p.push(conn, HandleBatteryLevel, []byte{v}, log)
	}
	if v, ok := charger.Take(); ok {
		p.pushBinary(conn, HandleChargerState, v, log)
	}
	telemetry.Take()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-soc.Ready():
			if v, ok := soc.Take(); ok {
				p.push(conn, HandleBatteryLevel, []byte{v}, log)
			}
		case <-charger.Ready():
			if v, ok := charger.Take(); ok {
				p.pushBinary(conn, HandleChargerState, v, log)
			}
		case <-telemetry.Ready():
			if v, ok := telemetry.Take(); ok {
				p.pushBinary(conn, HandlePeriodicUpdate, v, log)
			}
		case <-gyro.Ready():
			if v, ok := gyro.Take(); ok {
				p.push(conn, HandleGyro, types.EncodeGyro(v), log)
			}
		}
	}
}

type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

func (p *Peripheral) pushBinary(conn HostConn, h Handle, v binaryMarshaler, log logrus.FieldLogger) {
	b, err := v.MarshalBinary()
	if err != nil {
		log.WithError(err).WithField("char", h).Warn("encode failed")
		return
	}
	p.push(conn, h, b, log)
}

// push sets the value and notifies. A host that has not subscribed makes
// Notify fail; that is logged and otherwise ignored.
func (p *Peripheral) push(conn HostConn, h Handle, v []byte, log logrus.FieldLogger) {
	if err := conn.SetValue(h, v); err != nil {
		log.WithError(errcode.Wrap(errcode.SetValue, "set value", err)).WithField("char", h).Warn("set value failed")
	}
	if err := conn.Notify(h, v); err != nil {
		log.WithError(errcode.Wrap(errcode.Notify, "notify", err)).WithField("char", h).Warn("notify failed")
	}
}

// race runs a and b until the first returns, cancels the other and waits
// for it, so both have released what they hold when race returns. A panic
// in either is raised again by race.
func race(ctx context.Context, a, b func(context.Context)) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var box panicx.Box
	var wg sync.WaitGroup
	wg.Add(2)
	for _, fn := range []func(context.Context){a, b} {
		fn := fn
		go func() {
			defer wg.Done()
			defer cancel()
			box.Run(func() { fn(ctx) })
		}()
	}
	wg.Wait()
	box.Rethrow()
}
