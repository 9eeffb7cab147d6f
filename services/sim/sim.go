// Package sim assembles a complete copter from simulated parts and scripts
// the world around it: a pilot on the controller, a host companion and a
// battery that drains and recharges.
package sim

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"blecopter-go/drivers/xbox"
	"blecopter-go/services/ble"
	"blecopter-go/services/ble/simradio"
	"blecopter-go/services/config"
	"blecopter-go/services/simhw"
	"blecopter-go/services/supervisor"
	"blecopter-go/state"
	"blecopter-go/types"
	"blecopter-go/x/logx"
	"blecopter-go/x/ramp"
	"blecopter-go/x/timex"
)

// ControllerAddress is the simulated controller's address.
const ControllerAddress ble.Address = "98:7a:14:5e:00:01"

// World is one simulated copter with its radio neighbourhood.
type World struct {
	Radio      *simradio.Radio
	Board      *simhw.Board
	Controller *simradio.Peer
}

// NewWorld returns a world whose battery starts at soc percent and whose
// controller is already bonded.
func NewWorld(soc uint8) *World {
	w := &World{
		Radio:      simradio.New(),
		Board:      simhw.NewBoard(soc),
		Controller: simradio.NewController(ControllerAddress),
	}
	w.Controller.Bonded = true
	w.Radio.AddPeer(w.Controller)
	return w
}

// Deps wires the world into the supervisor.
func (w *World) Deps(st *state.State, s config.Settings, l logrus.FieldLogger) supervisor.Deps {
	return supervisor.Deps{
		State:     st,
		Settings:  s,
		Central:   w.Radio,
		Server:    w.Radio,
		Gauge:     w.Board.Gauge,
		PowerPins: w.Board.PowerPins(),
		Flight:    &w.Board.Flight,
		LED:       &w.Board.LED,
		Reset:     &w.Board.Reset,
		Log:       l,
	}
}

// Script tunes the scripted actors.
type Script struct {
	ReportRate  time.Duration // pilot report period
	Climb       time.Duration // throttle ramp time, each way
	Hover       time.Duration // time at full throttle
	Drain       time.Duration // one percent of charge per Drain
	ChargeBelow uint8         // plug the charger at or below this charge
}

func DefaultScript() Script {
	return Script{
		ReportRate:  20 * time.Millisecond,
		Climb:       2 * time.Second,
		Hover:       2 * time.Second,
		Drain:       time.Second,
		ChargeBelow: 10,
	}
}

// Play runs the pilot, host and battery scripts until ctx ends.
func (w *World) Play(ctx context.Context, sc Script, l logrus.FieldLogger) {
	log := logx.Service(l, "sim")
	var wg sync.WaitGroup
	for _, run := range []func(context.Context, Script, logrus.FieldLogger){w.pilot, w.host, w.battery} {
		wg.Add(1)
		go func(run func(context.Context, Script, logrus.FieldLogger)) {
			defer wg.Done()
			run(ctx, sc, log)
		}(run)
	}
	wg.Wait()
}

// pilot climbs, hovers and descends while the controller is subscribed.
func (w *World) pilot(ctx context.Context, sc Script, log logrus.FieldLogger) {
	var (
		mu       sync.Mutex
		throttle int32
	)
	set := func(v int32) {
		mu.Lock()
		throttle = v
		mu.Unlock()
	}

	// Reports flow at a steady rate whatever the ramp is doing.
	go func() {
		t := time.NewTicker(sc.ReportRate)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				mu.Lock()
				in := types.ControllerInput{Left: types.Stick{Y: throttle}}
				mu.Unlock()
				r := xbox.EncodeReport(in)
				w.Controller.SendReport(r[:])
			}
		}
	}()

	steps := int(sc.Climb / sc.ReportRate)
	for ctx.Err() == nil {
		if !w.Controller.Subscribed() {
			timex.Sleep(ctx, 50*time.Millisecond)
			continue
		}
		log.Info("pilot climbing")
		if !ramp.Linear(ctx, 0, xbox.SticksRange/2, sc.Climb, steps, set) {
			return
		}
		if !timex.Sleep(ctx, sc.Hover) {
			return
		}
		log.Info("pilot descending")
		if !ramp.Linear(ctx, xbox.SticksRange/2, 0, sc.Climb, steps, set) {
			return
		}
		timex.Sleep(ctx, sc.Hover)
	}
}

// host connects to the GATT server, subscribes to everything it can and
// logs what the copter reports.
func (w *World) host(ctx context.Context, _ Script, log logrus.FieldLogger) {
	for ctx.Err() == nil {
		if _, ok := w.Radio.Profile(); ok {
			break
		}
		timex.Sleep(ctx, 10*time.Millisecond)
	}
	if ctx.Err() != nil {
		return
	}

	h := w.Radio.ConnectHost()
	defer h.Leave()
	for _, hd := range []ble.Handle{ble.HandleBatteryLevel, ble.HandleChargerState, ble.HandlePeriodicUpdate, ble.HandleGyro} {
		h.Subscribe(hd, true)
	}
	log.WithField("peer", h.Peer()).Info("host connected")

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.Done():
			log.Warn("host link lost")
			return
		case n := <-h.Notifications():
			log.WithFields(logrus.Fields{
				"handle": n.Handle,
				"value":  hex.EncodeToString(n.Value),
			}).Debug("host notification")
		}
	}
}

// battery drains while unplugged and charges while plugged.
func (w *World) battery(ctx context.Context, sc Script, log logrus.FieldLogger) {
	soc, _ := w.Board.Gauge.StateOfCharge()
	charging := false
	for timex.Sleep(ctx, sc.Drain) {
		switch {
		case charging && soc >= 100:
			charging = false
			w.Board.PlugCharger(false)
			log.Info("charger unplugged")
		case !charging && soc <= sc.ChargeBelow:
			charging = true
			w.Board.PlugCharger(true)
			log.Info("charger plugged")
		case charging:
			soc = min(soc+5, 100)
		case soc > 0:
			soc--
		}
		w.Board.Gauge.SetSoC(soc)
	}
}
