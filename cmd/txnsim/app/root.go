package app

import (
	"context"

	"github.com/Blackdeer1524/txnsim/src/cli"
)

var rootCmd = cli.Init("txnsim")

func MustExecute(ctx context.Context) {
	initRun()
	initRecover()
	initSweep()
	initLog()
	rootCmd.MustExecute(ctx)
}
