package ble_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"blecopter-go/bus"
	"blecopter-go/services/ble"
	"blecopter-go/services/ble/adv"
	"blecopter-go/services/ble/simradio"
	"blecopter-go/state"
	"blecopter-go/types"
)

type peripheralRig struct {
	radio *simradio.Radio
	st    *state.State
	hook  *test.Hook
	stop  context.CancelFunc
	errCh chan error
}

func startPeripheral(t *testing.T, radio *simradio.Radio, st *state.State) *peripheralRig {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	cfg := ble.DefaultPeripheralConfig()
	cfg.AdvertiseRetryDelay = 2 * time.Millisecond
	p := ble.NewPeripheral(radio, st, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	rig := &peripheralRig{radio: radio, st: st, hook: hook, stop: cancel, errCh: make(chan error, 1)}
	go func() { rig.errCh <- p.Run(ctx) }()
	t.Cleanup(cancel)
	return rig
}

func (r *peripheralRig) warned(msg string) int {
	n := 0
	for _, e := range r.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == msg {
			n++
		}
	}
	return n
}

func connectHost(t *testing.T, rig *peripheralRig) *simradio.Host {
	t.Helper()
	waitFor(t, "profile", func() bool { _, ok := rig.radio.Profile(); return ok })
	return rig.radio.ConnectHost()
}

func expectRequest(t *testing.T, r *bus.Reader[types.Request]) types.Request {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, err := r.WaitChanged(ctx)
	if err != nil {
		t.Fatalf("no request published: %v", err)
	}
	return req
}

func expectNoRequest(t *testing.T, r *bus.Reader[types.Request]) {
	t.Helper()
	select {
	case <-r.Ready():
		req, _ := r.Take()
		t.Fatalf("unexpected request %+v", req)
	case <-time.After(30 * time.Millisecond):
	}
}

func expectNotification(t *testing.T, h *simradio.Host, handle ble.Handle, want []byte) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case n := <-h.Notifications():
			if n.Handle == handle && bytes.Equal(n.Value, want) {
				return
			}
		case <-deadline:
			t.Fatalf("no notification %s = % x", handle, want)
		}
	}
}

func TestPeripheral_AdvertisementAndProfile(t *testing.T) {
	radio := simradio.New()
	startPeripheral(t, radio, state.New())
	waitFor(t, "advertising", func() bool { return len(radio.Adverts()) > 0 })

	a := radio.Adverts()[0]
	if a.LocalName != "Syma S107" || adv.Name(a.ScanResponse) != "Syma S107" {
		t.Fatalf("name = %q / %q", a.LocalName, adv.Name(a.ScanResponse))
	}
	flags, ok := adv.Find(a.Data, adv.TypeFlags)
	if !ok || flags.Data[0] != 0x06 {
		t.Fatalf("flags = %+v,%v", flags, ok)
	}
	svc, ok := adv.Find(a.Data, adv.TypeIncomplete128)
	le := adv.LittleEndian(ble.PowerService)
	if !ok || !bytes.Equal(svc.Data, le[:]) {
		t.Fatalf("service list = % x", svc.Data)
	}

	p, _ := radio.Profile()
	for _, h := range []ble.Handle{
		ble.HandleBatteryLevel, ble.HandleChargerState, ble.HandlePeriodicUpdate, ble.HandleGyro,
		ble.HandleReboot, ble.HandleTuning, ble.HandleSensorReset,
	} {
		if _, ok := p.Lookup(h); !ok {
			t.Fatalf("profile lacks %s", h)
		}
	}
}

func TestPeripheral_RegisterFailureIsFatal(t *testing.T) {
	radio := simradio.New()
	radio.FailRegister(errors.New("no attribute space"))
	rig := startPeripheral(t, radio, state.New())

	select {
	case err := <-rig.errCh:
		if err == nil {
			t.Fatal("Run returned nil on register failure")
		}
	case <-time.After(time.Second):
		t.Fatal("Run kept going after register failure")
	}
}

func TestPeripheral_AdvertiseErrorRetried(t *testing.T) {
	radio := simradio.New()
	radio.FailAdvertise(errors.New("adv busy"))
	rig := startPeripheral(t, radio, state.New())

	h := connectHost(t, rig)
	waitFor(t, "retry", func() bool { return len(radio.Adverts()) >= 2 })
	if !h.Connected() {
		t.Fatal("host dropped")
	}
}

func TestPeripheral_RebootWrite(t *testing.T) {
	st := state.New()
	reqs := st.Requests.Subscribe()
	rig := startPeripheral(t, simradio.New(), st)
	h := connectHost(t, rig)

	h.Write(ble.HandleReboot, []byte{0})
	expectNoRequest(t, reqs)

	h.Write(ble.HandleReboot, []byte{1})
	if req := expectRequest(t, reqs); req.Kind != types.RequestReboot {
		t.Fatalf("request = %+v", req)
	}
	expectNoRequest(t, reqs)
}

func TestPeripheral_TuningWrite(t *testing.T) {
	st := state.New()
	reqs := st.Requests.Subscribe()
	rig := startPeripheral(t, simradio.New(), st)
	h := connectHost(t, rig)

	h.Write(ble.HandleTuning, []byte{1, 2})
	expectNoRequest(t, reqs)

	tu, _ := types.TuningUpdate{P: 250, I: 10, D: 100}.MarshalBinary()
	h.Write(ble.HandleTuning, tu)
	req := expectRequest(t, reqs)
	if req.Kind != types.RequestTuning || req.Tuning.P != 2.5 || req.Tuning.I != 0.1 || req.Tuning.D != 1 {
		t.Fatalf("request = %+v", req)
	}
}

func TestPeripheral_SensorResetAndIgnoredWrites(t *testing.T) {
	st := state.New()
	reqs := st.Requests.Subscribe()
	rig := startPeripheral(t, simradio.New(), st)
	h := connectHost(t, rig)

	h.Write(ble.HandleBatteryLevel, []byte{99})
	h.Write(ble.Handle(200), []byte{1})
	h.Write(ble.HandleSensorReset, nil)
	expectNoRequest(t, reqs)

	h.Write(ble.HandleSensorReset, []byte{1})
	if req := expectRequest(t, reqs); req.Kind != types.RequestSensorReset {
		t.Fatalf("request = %+v", req)
	}
}

func TestPeripheral_InitialSyncOfReadableValues(t *testing.T) {
	st := state.New()
	st.SetSoC(64)
	st.SetCharger(types.ChargerState{Charging: true})
	st.Telemetry.Publish(types.PeriodicUpdate{Voltage: 3900})

	rig := startPeripheral(t, simradio.New(), st)
	h := connectHost(t, rig)

	waitFor(t, "battery value", func() bool {
		v, ok := h.Value(ble.HandleBatteryLevel)
		return ok && bytes.Equal(v, []byte{64})
	})
	waitFor(t, "charger value", func() bool {
		v, ok := h.Value(ble.HandleChargerState)
		return ok && bytes.Equal(v, []byte{1, 0})
	})
	if _, ok := h.Value(ble.HandlePeriodicUpdate); ok {
		t.Fatal("notify-only telemetry was pushed on connect")
	}
	// The host has not subscribed yet; notifying it fails and is tolerated.
	waitFor(t, "notify warning", func() bool { return rig.warned("notify failed") >= 2 })
}

func TestPeripheral_NotifierForwardsChanges(t *testing.T) {
	st := state.New()
	rig := startPeripheral(t, simradio.New(), st)
	h := connectHost(t, rig)

	for _, hd := range []ble.Handle{ble.HandleBatteryLevel, ble.HandleChargerState, ble.HandlePeriodicUpdate, ble.HandleGyro} {
		h.Subscribe(hd, true)
	}
	waitFor(t, "cccd handled", func() bool {
		n := 0
		for _, e := range rig.hook.AllEntries() {
			if e.Message == "notifications" {
				n++
			}
		}
		return n == 4
	})

	st.SetSoC(33)
	expectNotification(t, h, ble.HandleBatteryLevel, []byte{33})

	st.SetCharger(types.ChargerState{Failure: true})
	expectNotification(t, h, ble.HandleChargerState, []byte{0, 1})

	st.Telemetry.Publish(types.PeriodicUpdate{Voltage: 0x0e74, Current: -1, Temperature: 2981})
	expectNotification(t, h, ble.HandlePeriodicUpdate, []byte{0x74, 0x0e, 0xff, 0xff, 0xa5, 0x0b})

	st.Gyro.Publish(-2)
	expectNotification(t, h, ble.HandleGyro, []byte{0xfe, 0xff})
}

func TestPeripheral_NotifyFailureDoesNotStopNotifier(t *testing.T) {
	st := state.New()
	rig := startPeripheral(t, simradio.New(), st)
	h := connectHost(t, rig)
	h.Subscribe(ble.HandleBatteryLevel, true)

	h.FailNotify(errors.New("tx queue full"))
	st.SetSoC(50)
	waitFor(t, "notify warning", func() bool { return rig.warned("notify failed") >= 1 })

	h.FailNotify(nil)
	st.SetSoC(49)
	expectNotification(t, h, ble.HandleBatteryLevel, []byte{49})

	// The dispatcher is still alive too.
	reqs := st.Requests.Subscribe()
	h.Write(ble.HandleReboot, []byte{1})
	expectRequest(t, reqs)
}

func TestPeripheral_HostLeavesThenReadvertises(t *testing.T) {
	radio := simradio.New()
	rig := startPeripheral(t, radio, state.New())
	h := connectHost(t, rig)
	waitFor(t, "first advertisement", func() bool { return len(radio.Adverts()) == 1 })

	h.Leave()
	waitFor(t, "advertising again", func() bool { return len(radio.Adverts()) == 2 })

	h2 := radio.ConnectHost()
	reqs := rig.st.Requests.Subscribe()
	h2.Write(ble.HandleSensorReset, []byte{1})
	expectRequest(t, reqs)
}

func TestPeripheral_CancelDisconnectsHost(t *testing.T) {
	radio := simradio.New()
	rig := startPeripheral(t, radio, state.New())
	h := connectHost(t, rig)
	waitFor(t, "served", func() bool { return len(radio.Adverts()) == 1 })

	rig.stop()
	select {
	case err := <-rig.errCh:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	if h.Connected() {
		t.Fatal("host still connected after shutdown")
	}
}

// faultyServer hands out host connections whose notifications panic.
type faultyServer struct{ *simradio.Radio }

func (s faultyServer) Advertise(ctx context.Context, a ble.Advertisement) (ble.HostConn, error) {
	c, err := s.Radio.Advertise(ctx, a)
	if err != nil {
		return nil, err
	}
	return faultyConn{c}, nil
}

type faultyConn struct{ ble.HostConn }

func (faultyConn) Notify(ble.Handle, []byte) error { panic("notify fault") }

func TestPeripheral_NotifierPanicReachesRun(t *testing.T) {
	radio := simradio.New()
	st := state.New()
	st.SetSoC(61)
	logger, _ := test.NewNullLogger()
	p := ble.NewPeripheral(faultyServer{radio}, st, ble.DefaultPeripheralConfig(), logger)

	recovered := make(chan any, 1)
	go func() {
		defer func() { recovered <- recover() }()
		p.Run(context.Background())
	}()
	waitFor(t, "profile", func() bool { _, ok := radio.Profile(); return ok })
	h := radio.ConnectHost()

	select {
	case v := <-recovered:
		if v != "notify fault" {
			t.Fatalf("recovered %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("panic did not reach Run")
	}
	if h.Connected() {
		t.Fatal("host left connected")
	}
}
