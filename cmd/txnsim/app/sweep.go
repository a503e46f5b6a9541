package app

import (
	"github.com/spf13/cobra"

	txnsim "github.com/Blackdeer1524/txnsim/src/app"
)

func initSweep() {
	var planPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Runs every simulation of a YAML plan, each in its own data sub-directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := rootCmd.LoadConfig()
			if err != nil {
				return err
			}

			return txnsim.Run(cmd.Context(), &txnsim.SweepEntrypoint{
				Config:   config,
				PlanPath: planPath,
			})
		},
	}
	cmd.Flags().StringVarP(&planPath, "plan", "p", "plan.yaml", "Path to the sweep plan")

	rootCmd.AddCommand(cmd)
}
