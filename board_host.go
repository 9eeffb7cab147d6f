//go:build !nrf52840

package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"blecopter-go/services/config"
	"blecopter-go/services/sim"
	"blecopter-go/services/supervisor"
	"blecopter-go/state"
)

const boardName = "sim"

// configPath names an optional YAML overlay for the simulated board.
func configPath() string { return os.Getenv("COPTER_CONFIG") }

func resetBoard() { os.Exit(3) }

// openBoard builds a simulated world and starts its scripted pilot, host
// and battery. A reset ends the process.
func openBoard(st *state.State, s config.Settings, log logrus.FieldLogger) (supervisor.Deps, error) {
	w := sim.NewWorld(80)
	w.Board.Reset.On = resetBoard
	go w.Play(context.Background(), sim.DefaultScript(), log)
	return w.Deps(st, s, log), nil
}
