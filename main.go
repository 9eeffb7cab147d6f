package main

import (
	"context"
	"time"

	"blecopter-go/services/config"
	"blecopter-go/services/supervisor"
	"blecopter-go/state"
	"blecopter-go/x/logx"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)

	s, err := config.Load(boardName, configPath())
	if err != nil {
		println("config:", err.Error())
		resetBoard()
		return
	}
	log := logx.New(s.LogLevel, nil)
	log.WithField("board", boardName).Info("boot")

	st := state.New()
	d, err := openBoard(st, s, log)
	if err != nil {
		log.WithError(err).Error("board init failed")
		resetBoard()
		return
	}

	// Run only returns on a fatal task error, after it has reset the board.
	if err := supervisor.Run(context.Background(), d); err != nil {
		log.WithError(err).Error("supervisor stopped")
	}
	resetBoard()
}
