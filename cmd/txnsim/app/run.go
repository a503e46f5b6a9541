package app

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	txnsim "github.com/Blackdeer1524/txnsim/src/app"
	"github.com/Blackdeer1524/txnsim/src/cfg"
)

var runArgNames = []string{"cycles", "trans_size", "start_prob", "write_prob", "rollback_prob", "timeout"}

// applyRunArgs overrides c with the positional arguments of the run command,
// in the order of runArgNames. Missing trailing arguments keep their values.
func applyRunArgs(c *cfg.Config, args []string) error {
	for i, arg := range args {
		var err error
		switch i {
		case 0:
			c.Cycles, err = strconv.Atoi(arg)
		case 1:
			c.TxnSize, err = strconv.Atoi(arg)
		case 2:
			c.StartProb, err = strconv.ParseFloat(arg, 64)
		case 3:
			c.WriteProb, err = strconv.ParseFloat(arg, 64)
		case 4:
			c.RollbackProb, err = strconv.ParseFloat(arg, 64)
		case 5:
			c.Timeout, err = strconv.ParseInt(arg, 10, 64)
		default:
			return fmt.Errorf("unexpected argument %q", arg)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", runArgNames[i], err)
		}
	}

	return c.Validate()
}

func initRun() {
	var recoverOnly bool

	cmd := &cobra.Command{
		Use:   "run [cycles] [trans_size] [start_prob] [write_prob] [rollback_prob] [timeout]",
		Short: "Recovers the database, then runs a simulation against it",
		Args:  cobra.MaximumNArgs(len(runArgNames)),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := rootCmd.LoadConfig()
			if err != nil {
				return err
			}
			if err := applyRunArgs(&config, args); err != nil {
				return err
			}

			return txnsim.Run(cmd.Context(), &txnsim.SimulationEntrypoint{
				Config:      config,
				RecoverOnly: recoverOnly,
			})
		},
	}
	cmd.Flags().BoolVar(&recoverOnly, "recover", false, "Only recover the database and exit")

	rootCmd.AddCommand(cmd)
}
