// Package supervisor starts every firmware task and joins them.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"blecopter-go/gate"
	"blecopter-go/services/ble"
	"blecopter-go/services/config"
	"blecopter-go/services/control"
	"blecopter-go/services/heartbeat"
	"blecopter-go/services/indications"
	"blecopter-go/services/power"
	"blecopter-go/services/requests"
	"blecopter-go/state"
	"blecopter-go/types"
	"blecopter-go/x/logx"
)

// Deps is everything the board provides.
type Deps struct {
	State    *state.State
	Settings config.Settings

	Central ble.CentralRadio
	Server  ble.ServerRadio

	Gauge     power.Gauge
	PowerPins power.Pins
	Flight    control.Hardware
	LED       indications.LED

	Reset types.Resetter
	Log   logrus.FieldLogger
}

// Run starts all tasks and blocks until ctx ends or one of them fails.
// A failing or panicking task stops the others and resets the board.
func Run(ctx context.Context, d Deps) error {
	log := logx.Service(d.Log, "supervisor")
	st, cfg := d.State, d.Settings

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	central := ble.NewCentral(d.Central, st, ble.NewBonder(d.Log), d.Reset, cfg.CentralConfig(), d.Log)
	tasks := []struct {
		name string
		run  func(context.Context) error
	}{
		{"indications", noErr(indications.New(d.LED, st, cfg.IndicationsConfig(), d.Log).Run)},
		{"power", power.New(d.Gauge, d.PowerPins, st, cfg.PowerConfig(), d.Log).Run},
		{"central", func(ctx context.Context) error {
			return gate.RunWhile(ctx, st.Snapshot.Subscribe(), state.LinkAllowed, central.Run,
				gate.WithName("central"), gate.WithLogger(log), gate.WithRestartDelay(cfg.Gate.RestartDelay))
		}},
		{"peripheral", ble.NewPeripheral(d.Server, st, cfg.PeripheralConfig(), d.Log).Run},
		{"control", control.New(d.Flight, st, cfg.ControlConfig(), d.Log).Run},
		{"requests", noErr(requests.New(st, d.Reset, d.Log).Run)},
		{"heartbeat", noErr(heartbeat.New(st, cfg.Heartbeat.Interval, d.Log).Run)},
	}

	var (
		wg    sync.WaitGroup
		once  sync.Once
		fatal error
	)
	for _, t := range tasks {
		wg.Add(1)
		go func(name string, run func(context.Context) error) {
			defer wg.Done()
			err := guard(ctx, run)
			if err == nil || ctx.Err() != nil {
				return
			}
			once.Do(func() {
				fatal = errors.Wrapf(err, "task %s", name)
				cancel()
			})
		}(t.name, t.run)
	}
	log.WithField("tasks", len(tasks)).Info("tasks spawned")

	wg.Wait()
	if fatal != nil {
		log.WithError(fatal).Error("fatal task failure, resetting")
		d.Reset.Reset()
		return fatal
	}
	return nil
}

// guard runs one task, turning a panic into an error.
func guard(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("panic: ", r))
		}
	}()
	err = run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func noErr(run func(context.Context)) func(context.Context) error {
	return func(ctx context.Context) error {
		run(ctx)
		return nil
	}
}
