package app

import (
	"github.com/spf13/cobra"

	txnsim "github.com/Blackdeer1524/txnsim/src/app"
)

func initRecover() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "recover",
		Short: "Replays the log into the data file and resets the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := rootCmd.LoadConfig()
			if err != nil {
				return err
			}

			return txnsim.Run(cmd.Context(), &txnsim.SimulationEntrypoint{
				Config:      config,
				RecoverOnly: true,
			})
		},
	})
}
