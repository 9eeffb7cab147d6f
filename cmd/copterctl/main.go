// Command copterctl is the bench tool for the copter firmware: it decodes
// captured controller traffic, prints the effective configuration and runs
// the firmware against simulated hardware.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"

	"blecopter-go/drivers/xbox"
	"blecopter-go/services/ble/adv"
	"blecopter-go/services/config"
	"blecopter-go/services/sim"
	"blecopter-go/services/supervisor"
	"blecopter-go/state"
	"blecopter-go/types"
	"blecopter-go/x/logx"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "copterctl:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "copterctl"
	app.Usage = "bench tool for the BLE copter firmware"
	app.Commands = []cli.Command{
		{
			Name:      "decode-report",
			Usage:     "decode a controller input report",
			ArgsUsage: "<hex>",
			Action:    decodeReport,
		},
		{
			Name:      "check-adv",
			Usage:     "walk an advertising payload and say whether it is a controller",
			ArgsUsage: "<hex>",
			Action:    checkAdv,
		},
		{
			Name:  "config",
			Usage: "print the effective configuration",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "board", Value: "nrf52", Usage: "embedded configuration to start from"},
				cli.StringFlag{Name: "config", Usage: "YAML overlay file"},
			},
			Action: printConfig,
		},
		{
			Name:  "sim",
			Usage: "run the firmware on simulated hardware",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config", Usage: "YAML overlay file"},
				cli.DurationFlag{Name: "duration", Usage: "stop after this long; zero runs until interrupted"},
				cli.UintFlag{Name: "soc", Value: 80, Usage: "initial battery charge in percent"},
			},
			Action: runSim,
		},
	}
	return app
}

func hexArg(c *cli.Context) ([]byte, error) {
	if c.NArg() != 1 {
		return nil, errors.Errorf("%s takes exactly one hex argument", c.Command.Name)
	}
	s := strings.NewReplacer(" ", "", ":", "").Replace(c.Args().First())
	b, err := hex.DecodeString(s)
	return b, errors.Wrap(err, "decode hex")
}

func decodeReport(c *cli.Context) error {
	raw, err := hexArg(c)
	if err != nil {
		return err
	}
	in := xbox.DecodeReport(raw)
	w := c.App.Writer
	fmt.Fprintf(w, "left:    x=%d y=%d\n", in.Left.X, in.Left.Y)
	fmt.Fprintf(w, "right:   x=%d y=%d\n", in.Right.X, in.Right.Y)
	fmt.Fprintf(w, "trigger: l=%d r=%d\n", in.LeftTrigger, in.RightTrigger)
	fmt.Fprintf(w, "buttons: %#06x\n", uint32(in.Buttons))
	if in.Buttons.Has(types.ButtonRB) {
		fmt.Fprintln(w, "panic button held: the copter resets on this report")
	}
	return nil
}

var adNames = map[byte]string{
	adv.TypeFlags:            "flags",
	adv.TypeIncomplete16:     "uuid16 (incomplete)",
	adv.TypeComplete16:       "uuid16",
	adv.TypeIncomplete128:    "uuid128 (incomplete)",
	adv.TypeComplete128:      "uuid128",
	adv.TypeShortName:        "short name",
	adv.TypeCompleteName:     "name",
	adv.TypeManufacturerData: "manufacturer",
}

func checkAdv(c *cli.Context) error {
	raw, err := hexArg(c)
	if err != nil {
		return err
	}
	w := c.App.Writer
	adv.Walk(raw, func(e adv.Entry) bool {
		name, ok := adNames[e.Type]
		if !ok {
			name = fmt.Sprintf("type %#02x", e.Type)
		}
		fmt.Fprintf(w, "%-20s % x\n", name, e.Data)
		return true
	})
	fmt.Fprintf(w, "controller: %v\n", xbox.IsCandidate(raw))
	return nil
}

func printConfig(c *cli.Context) error {
	s, err := config.Load(c.String("board"), c.String("config"))
	if err != nil {
		return err
	}
	return writeYAML(c.App.Writer, s)
}

func writeYAML(w io.Writer, s config.Settings) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return errors.Wrap(err, "encode config")
	}
	return enc.Close()
}

func runSim(c *cli.Context) error {
	s, err := config.Load("sim", c.String("config"))
	if err != nil {
		return err
	}
	soc := c.Uint("soc")
	if soc > 100 {
		return errors.Errorf("soc %d out of range", soc)
	}
	log := logx.New(s.LogLevel, c.App.ErrWriter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	w := sim.NewWorld(uint8(soc))
	go w.Play(ctx, sim.DefaultScript(), log)

	start := time.Now()
	err = supervisor.Run(ctx, w.Deps(state.New(), s, log))
	log.WithField("ran", time.Since(start).Round(time.Millisecond)).Info("simulation ended")
	if err != nil {
		return err
	}
	if n := w.Board.Reset.Count(); n > 0 {
		return errors.Errorf("firmware requested %d reset(s)", n)
	}
	return nil
}
